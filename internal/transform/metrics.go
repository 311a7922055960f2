package transform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "transform",
			Name:      "operations_total",
			Help:      "Total number of payload transformations",
		},
		[]string{"kind", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcgw",
			Subsystem: "transform",
			Name:      "operation_duration_seconds",
			Help:      "Duration of payload transformations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"kind"},
	)
)

func recordOperation(kind string, err error, seconds float64) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(kind, result).Inc()
	operationDuration.WithLabelValues(kind).Observe(seconds)
}
