// Package protocol defines the wire shapes exchanged with the bot socket
// and the conferencing platform. It classifies inbound WebSocket frames
// (registration JSON, speaker metadata, raw PCM), renders outbound
// transcript envelopes, and decodes webhook control events.
package protocol
