package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription mediator
type Metrics struct {
	// Ingress frame metrics
	FramesReceived     *prometheus.CounterVec
	FramesForwarded    prometheus.Counter
	IngressConnections prometheus.Gauge

	// Drop accounting, by reason
	FramesDroppedGated     prometheus.Counter
	FramesDroppedNotOpen   prometheus.Counter
	FramesDroppedSendError prometheus.Counter

	// Transcript metrics
	TranscriptEvents *prometheus.CounterVec

	// Fan-out metrics
	SubscriberDeliveries prometheus.Counter
	SubscriberDrops      *prometheus.CounterVec

	// Session metrics
	SessionsCreated    prometheus.Counter
	SessionsTerminated prometheus.Counter
	SessionDuration    prometheus.Histogram

	// Control plane metrics
	WebhookEvents *prometheus.CounterVec

	// HTTP surface metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registerer
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics on the given registerer. Tests pass
// their own registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_ingress_frames_received_total",
			Help: "Total ingress frames received, by classified kind",
		}, []string{"kind"}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtm_frames_forwarded_total",
			Help: "Total PCM frames forwarded to the STT provider",
		}),
		IngressConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtm_ingress_connections",
			Help: "Current number of open ingress connections",
		}),

		FramesDroppedGated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtm_frames_dropped_gated_total",
			Help: "PCM frames dropped because the startup gate was closed",
		}),
		FramesDroppedNotOpen: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtm_frames_dropped_provider_not_open_total",
			Help: "PCM frames dropped because the provider stream was not open yet",
		}),
		FramesDroppedSendError: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtm_frames_dropped_send_error_total",
			Help: "PCM frames dropped due to provider send errors",
		}),

		TranscriptEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_transcript_events_total",
			Help: "Transcript events received from the provider, by finality",
		}, []string{"kind"}),

		SubscriberDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtm_subscriber_deliveries_total",
			Help: "Transcript envelopes delivered to subscribers",
		}),
		SubscriberDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_subscriber_drops_total",
			Help: "Transcript envelopes dropped per subscriber, by reason",
		}, []string{"reason"}),

		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtm_sessions_created_total",
			Help: "Total sessions created",
		}),
		SessionsTerminated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtm_sessions_terminated_total",
			Help: "Total sessions terminated",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtm_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),

		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_webhook_events_total",
			Help: "Webhook control events received, by event kind",
		}, []string{"event"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtm_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"method", "endpoint"}),
	}
}
