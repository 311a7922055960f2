package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "svcgw"

var (
	// StateGauge shows the current state of circuit breakers.
	StateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_state",
			Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	// RequestsTotal counts admission decisions.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_requests_total",
			Help:      "Total number of admission decisions made by circuit breakers",
		},
		[]string{"service", "result"},
	)

	// FailuresTotal counts failures recorded by circuit breakers.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_failures_total",
			Help:      "Total number of failures recorded by circuit breakers",
		},
		[]string{"service"},
	)

	// SuccessesTotal counts successes recorded by circuit breakers.
	SuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_successes_total",
			Help:      "Total number of successes recorded by circuit breakers",
		},
		[]string{"service"},
	)

	// StateChangesTotal counts state changes.
	StateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes",
		},
		[]string{"service", "from", "to"},
	)
)

func recordState(name string, state State) {
	StateGauge.WithLabelValues(name).Set(float64(state))
}

func recordRequest(name string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	RequestsTotal.WithLabelValues(name, result).Inc()
}

func recordFailure(name string) {
	FailuresTotal.WithLabelValues(name).Inc()
}

func recordSuccess(name string) {
	SuccessesTotal.WithLabelValues(name).Inc()
}

func recordStateChange(name string, from, to State) {
	StateChangesTotal.WithLabelValues(name, from.String(), to.String()).Inc()
}
