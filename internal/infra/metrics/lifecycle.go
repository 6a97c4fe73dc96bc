package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		lifecycleActionsTotal,
		checkoutFlowTotal,
		rateLimitTriggeredTotal,
		entitlementDecisionsTotal,
	)
}

var (
	lifecycleActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_actions_total",
			Help: "Subscription lifecycle commands by action and result.",
		},
		[]string{"action", "result"},
	)

	// flow: new|reenable|existing
	checkoutFlowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_flow_total",
			Help: "Subscribe calls by checkout flow.",
		},
		[]string{"flow"},
	)

	rateLimitTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_triggered_total",
			Help: "Requests rejected by the per-user rate limiter.",
		},
		[]string{"scope"},
	)

	entitlementDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_decisions_total",
			Help: "Access decisions served by effective and real category.",
		},
		[]string{"category", "real_category"},
	)
)

func IncLifecycleAction(action, result string) {
	lifecycleActionsTotal.WithLabelValues(norm(action), norm(result)).Inc()
}

func IncCheckoutFlow(flow string) {
	checkoutFlowTotal.WithLabelValues(norm(flow)).Inc()
}

func IncRateLimitTriggered(scope string) {
	rateLimitTriggeredTotal.WithLabelValues(norm(scope)).Inc()
}

func IncEntitlementDecision(category, real string) {
	entitlementDecisionsTotal.WithLabelValues(norm(category), norm(real)).Inc()
}
