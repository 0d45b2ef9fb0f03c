// Package server implements the combined network surface: the WebSocket
// audio ingress that bots stream PCM into, and the HTTP control plane
// receiving platform webhooks plus health, stats and metrics endpoints.
// Both share one listener.
package server
