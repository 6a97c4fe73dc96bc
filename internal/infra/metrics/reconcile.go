package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconcileCommandsTotal,
		txRetriesTotal,
		paidFlagRaisedTotal,
	)
}

var (
	// result: applied|noop|unknown_entity|error
	reconcileCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_commands_total",
			Help: "Reconciliation commands applied to the ledger by result.",
		},
		[]string{"command", "result"},
	)

	txRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_tx_retries_total",
			Help: "Ledger transactions retried after a serialization conflict.",
		},
	)

	// source: webhook|verify
	paidFlagRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_fee_flag_raised_total",
			Help: "Users whose verification fee flag was set for the first time.",
		},
		[]string{"source"},
	)
)

func IncReconcileCommand(command, result string) {
	reconcileCommandsTotal.WithLabelValues(norm(command), norm(result)).Inc()
}

func IncTxRetry() { txRetriesTotal.Inc() }

func IncPaidFlagRaised(source string) {
	paidFlagRaisedTotal.WithLabelValues(norm(source)).Inc()
}
