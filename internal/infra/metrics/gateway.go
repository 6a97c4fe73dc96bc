package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayRequestsTotal,
		gatewayLatency,
	)
}

var (
	// result: ok|error|timeout
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound billing gateway calls by operation and result.",
		},
		[]string{"provider", "op", "result"},
	)

	gatewayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Outbound billing gateway call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "op"},
	)
)

func ObserveGatewayCall(provider, op, result string, d time.Duration) {
	gatewayRequestsTotal.WithLabelValues(norm(provider), norm(op), norm(result)).Inc()
	gatewayLatency.WithLabelValues(norm(provider), norm(op)).Observe(d.Seconds())
}
