package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainstore7000",
		Subsystem: "flusher",
		Name:      "flushes_total",
		Help:      "Count of periodic store flushes.",
	}, []string{"status"})
	flushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chainstore7000",
		Subsystem: "flusher",
		Name:      "flush_duration_seconds",
		Help:      "Duration of periodic store flushes.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
)

// ObserveFlush records one periodic flush outcome.
func ObserveFlush(err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}

	flushTotal.WithLabelValues(status).Inc()
	flushDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// FlusherObserver adapts ObserveFlush to the flusher service's Metrics
// interface.
type FlusherObserver struct{}

func (FlusherObserver) ObserveFlush(err error, started time.Time) {
	ObserveFlush(err, started)
}
