package backend

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "svcgw"

var (
	// SelectionsTotal counts load balancer selections per instance.
	SelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "lb",
			Name:      "selections_total",
			Help:      "Total number of instances selected by the load balancer",
		},
		[]string{"service", "instance"},
	)

	// HealthChecksTotal counts check results.
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of health checks by target and result",
		},
		[]string{"service", "target", "result"},
	)

	// HealthCheckDuration observes check latency.
	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Duration of health checks",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"service"},
	)

	// ServiceHealthy reports the last service-level check (1=healthy).
	ServiceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "health",
			Name:      "service_healthy",
			Help:      "Whether the last service check succeeded (1=healthy, 0=unhealthy)",
		},
		[]string{"service"},
	)
)

func recordSelection(service, instance string) {
	SelectionsTotal.WithLabelValues(service, instance).Inc()
}

func recordHealthCheck(service, target string, ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	HealthChecksTotal.WithLabelValues(service, target, result).Inc()
	HealthCheckDuration.WithLabelValues(service).Observe(d.Seconds())
}

func recordServiceHealth(service string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	ServiceHealthy.WithLabelValues(service).Set(v)
}
