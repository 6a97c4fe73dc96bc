package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(ledgerPayments, capturedMinorUnits, planCacheLookups, poolConnections)
}

var (
	ledgerPayments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_payment_transitions_total",
			Help: "Payment rows entering a terminal status.",
		},
		[]string{"status", "currency"},
	)

	// capturedMinorUnits counts money, not rows. A replayed capture is not
	// a transition and never reaches it.
	capturedMinorUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_captured_minor_units_total",
			Help: "Captured amount in minor currency units.",
		},
		[]string{"currency"},
	)

	planCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_cache_lookups_total",
			Help: "Plan cache lookups by kind and outcome.",
		},
		[]string{"lookup", "result"}, // lookup: by_id|active; result: hit|miss|error
	)

	poolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_pool_connections",
			Help: "Ledger connection pool state.",
		},
		[]string{"state"},
	)
)

func IncPaymentTransition(status, currency string) {
	ledgerPayments.WithLabelValues(norm(status), norm(currency)).Inc()
}

func AddCaptured(currency string, amount int64) {
	if amount <= 0 {
		return
	}
	capturedMinorUnits.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncPlanCache(lookup, result string) {
	planCacheLookups.WithLabelValues(norm(lookup), norm(result)).Inc()
}

// SetPoolConnections publishes one pool snapshot.
func SetPoolConnections(max, total, idle, acquired int32) {
	poolConnections.WithLabelValues("max").Set(float64(max))
	poolConnections.WithLabelValues("total").Set(float64(total))
	poolConnections.WithLabelValues("idle").Set(float64(idle))
	poolConnections.WithLabelValues("acquired").Set(float64(acquired))
}
