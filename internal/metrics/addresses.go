package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	addressRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainstore7000",
		Subsystem: "address_index",
		Name:      "operations_total",
		Help:      "Count of payment-index operations.",
	}, []string{"operation", "status"})
	addressDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chainstore7000",
		Subsystem: "address_index",
		Name:      "operation_duration_seconds",
		Help:      "Duration of payment-index operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

// ObserveAddressIndex records one payment-index operation outcome.
func ObserveAddressIndex(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}

	addressRowsTotal.WithLabelValues(operation, status).Inc()
	addressDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// AddressObserver adapts ObserveAddressIndex to the clickhouse repository's
// Metrics interface.
type AddressObserver struct{}

func (AddressObserver) Observe(operation string, err error, started time.Time) {
	ObserveAddressIndex(operation, err, started)
}
