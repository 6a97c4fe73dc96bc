package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhookEventsTotal,
		webhookSignatureFailuresTotal,
		webhookDuration,
	)
}

var (
	// outcome: processed|ignored|unknown_entity|error
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Gateway webhook deliveries by event type and outcome.",
		},
		[]string{"event", "outcome"},
	)

	// reason: missing|mismatch|unconfigured
	webhookSignatureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Rejected webhook deliveries by reason.",
		},
		[]string{"reason"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Webhook handling time in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"outcome"},
	)
)

func IncWebhookEvent(event, outcome string) {
	webhookEventsTotal.WithLabelValues(eventFamily(event), norm(outcome)).Inc()
}

func IncWebhookSignatureFailure(reason string) {
	webhookSignatureFailuresTotal.WithLabelValues(norm(reason)).Inc()
}

func ObserveWebhook(outcome string, d time.Duration) {
	webhookDuration.WithLabelValues(norm(outcome)).Observe(d.Seconds())
}

// eventFamily keeps label cardinality bounded against arbitrary event names.
func eventFamily(event string) string {
	switch e := norm(event); e {
	case "payment.captured", "payment.failed", "payment.authorized",
		"subscription.authenticated", "subscription.activated", "subscription.charged",
		"subscription.pending", "subscription.halted", "subscription.cancelled",
		"subscription.completed", "subscription.expired",
		"refund.created", "refund.processed", "refund.failed":
		return e
	}
	return "other"
}
