// Package metrics exposes prometheus observers for store and repository
// operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainstore7000",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Count of store operations.",
	}, []string{"operation", "status"})
	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chainstore7000",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of store operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

// ObserveStore records one store operation outcome.
func ObserveStore(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}

	storeOperationsTotal.WithLabelValues(operation, status).Inc()
	storeOperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// StoreObserver adapts ObserveStore to the store.Metrics interface.
type StoreObserver struct{}

func (StoreObserver) Observe(operation string, err error, started time.Time) {
	ObserveStore(operation, err, started)
}
