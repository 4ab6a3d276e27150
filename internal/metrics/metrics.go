package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WAIncomingMessages *prometheus.CounterVec
	WAOutgoingMessages *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	Rejected           *prometheus.CounterVec
	Uploads            *prometheus.CounterVec
	UploadLatency      *prometheus.HistogramVec
	Reviews            *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WAIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_incoming_messages_total",
				Help:      "Total incoming WhatsApp messages processed.",
			}, []string{"type"}),
			WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_outgoing_messages_total",
				Help:      "Total outgoing WhatsApp messages sent.",
			}, []string{"type"}),
			Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_transitions_total",
				Help:      "Conversation state transitions by source and destination state.",
			}, []string{"from", "to"}),
			Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_rejected_events_total",
				Help:      "Inbound events rejected by the conversation engine.",
			}, []string{"reason"}),
			Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_uploads_total",
				Help:      "Media uploads by outcome.",
			}, []string{"status"}),
			UploadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "media_upload_duration_seconds",
				Help:      "Latency distribution for media uploads.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			Reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submission_reviews_total",
				Help:      "Review decisions recorded by resulting status.",
			}, []string{"status"}),
			Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Outbound notifications by kind and outcome.",
			}, []string{"kind", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WAIncomingMessages,
			metricsInstance.WAOutgoingMessages,
			metricsInstance.Transitions,
			metricsInstance.Rejected,
			metricsInstance.Uploads,
			metricsInstance.UploadLatency,
			metricsInstance.Reviews,
			metricsInstance.Notifications,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
