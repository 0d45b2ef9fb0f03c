// Package audio handles PCM capture and WAV encoding. It accumulates raw
// frames for sessions with recording enabled and writes a standard 44-byte
// RIFF/WAVE header around the captured bytes on session close.
package audio
