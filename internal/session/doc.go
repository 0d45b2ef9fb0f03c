// Package session implements the orchestrator that owns one meeting's
// lifecycle: it wires ingress, provider bridge and transcript sink
// together, gates transcription startup on control events, and funnels
// every termination trigger into a single idempotent teardown path.
package session
