package proxy

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of backend calls by service and status",
		},
		[]string{"service", "status"},
	)

	backendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcgw",
			Subsystem: "proxy",
			Name:      "backend_duration_seconds",
			Help:      "Duration of backend calls including retries",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)

	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "proxy",
			Name:      "errors_total",
			Help:      "Total number of failed backend calls",
		},
		[]string{"service", "error_type"},
	)

	responseTransformFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "proxy",
			Name:      "response_transform_fallbacks_total",
			Help:      "Responses returned untransformed after a transformation error",
		},
		[]string{"route"},
	)
)

func recordCall(service string, status int, seconds float64) {
	requestsTotal.WithLabelValues(service, strconv.Itoa(status)).Inc()
	backendDuration.WithLabelValues(service).Observe(seconds)
}

func recordError(service, errorType string) {
	errorsTotal.WithLabelValues(service, errorType).Inc()
}
