// Package metrics defines the Prometheus metric set for the transcription
// mediator: ingress frame accounting, gate and bridge drops, transcript
// event counts, subscriber fan-out health, and HTTP surface metrics.
package metrics
