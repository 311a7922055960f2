package retry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts attempts by operation and attempt number.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of backend call attempts",
		},
		[]string{"operation", "attempt"},
	)

	// ResultsTotal counts finished retry loops.
	ResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "retry",
			Name:      "results_total",
			Help:      "Total number of retried operations by outcome",
		},
		[]string{"operation", "result"},
	)

	// Duration measures the whole retry loop.
	Duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcgw",
			Subsystem: "retry",
			Name:      "duration_seconds",
			Help:      "Total duration of retried operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	// BackoffDuration measures backoff waits.
	BackoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcgw",
			Subsystem: "retry",
			Name:      "backoff_duration_seconds",
			Help:      "Duration of backoff waits in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

func recordAttempt(operation string, attempt int) {
	if operation == "" {
		return
	}
	AttemptsTotal.WithLabelValues(operation, attemptLabel(attempt)).Inc()
}

func recordResult(operation string, success bool, attempts int, elapsed time.Duration) {
	if operation == "" {
		return
	}
	result := "failure"
	switch {
	case success && attempts == 1:
		result = "success"
	case success:
		result = "success_after_retry"
	}
	ResultsTotal.WithLabelValues(operation, result).Inc()
	Duration.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}

func recordBackoff(operation string, d time.Duration) {
	if operation == "" {
		return
	}
	BackoffDuration.WithLabelValues(operation).Observe(d.Seconds())
}
