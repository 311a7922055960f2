package aggregator

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "aggregator",
			Name:      "executions_total",
			Help:      "Total number of aggregation executions by response status",
		},
		[]string{"aggregation", "status"},
	)

	aggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcgw",
			Subsystem: "aggregator",
			Name:      "duration_seconds",
			Help:      "Duration of aggregation executions",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"aggregation"},
	)

	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "aggregator",
			Name:      "calls_total",
			Help:      "Total number of aggregation calls by result",
		},
		[]string{"aggregation", "result"},
	)
)

func recordAggregation(name string, status int, elapsed time.Duration) {
	aggregationsTotal.WithLabelValues(name, strconv.Itoa(status)).Inc()
	aggregationDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func recordCall(aggregation, result string) {
	callsTotal.WithLabelValues(aggregation, result).Inc()
}
