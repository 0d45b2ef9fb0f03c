// Package journal implements the durable per-session transcript record.
// Each session gets its own directory holding a structured JSON record, a
// plain-text render of final transcripts, a raw stream log of everything
// observed in real time, and a session summary written on close.
package journal
