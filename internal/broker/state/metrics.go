package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// persistenceErrorsTotal counts failed snapshot or audit writes, keyed by
// which write failed and why. A failed write is logged and counted but
// never aborts the in-flight request that triggered it — the mutation has
// already landed in memory.
var persistenceErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradingbroker_persistence_errors_total",
		Help: "Count of failed state-store persistence operations.",
	},
	[]string{"operation", "error_type"},
)

// RecordPersistenceError increments the persistence-error counter.
func RecordPersistenceError(operation, errorType string) {
	persistenceErrorsTotal.WithLabelValues(operation, errorType).Inc()
}
