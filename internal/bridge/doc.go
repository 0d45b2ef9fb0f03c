// Package bridge owns the live connection to the selected STT provider
// for one session. It forwards PCM frames in arrival order, relays the
// provider's transcript events upward without reordering, and enforces
// the session's open-once and bounded-close lifecycle rules.
package bridge
