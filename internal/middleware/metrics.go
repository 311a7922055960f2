package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MiddlewareMetrics holds Prometheus metrics for the middleware chain.
type MiddlewareMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	rateLimitAllowed  prometheus.Counter
	rateLimitRejected prometheus.Counter
	rateLimitErrors   prometheus.Counter

	backstopRequests    *prometheus.CounterVec
	backstopTransitions *prometheus.CounterVec

	authFailures prometheus.Counter

	panicsRecovered prometheus.Counter
}

var (
	middlewareMetrics     *MiddlewareMetrics
	middlewareMetricsOnce sync.Once
)

// GetMiddlewareMetrics returns the singleton middleware metrics instance.
func GetMiddlewareMetrics() *MiddlewareMetrics {
	middlewareMetricsOnce.Do(func() {
		middlewareMetrics = newMiddlewareMetrics()
	})
	return middlewareMetrics
}

func newMiddlewareMetrics() *MiddlewareMetrics {
	const ns, sub = "svcgw", "http"
	return &MiddlewareMetrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "requests_total",
			Help: "Total number of inbound requests by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "request_duration_seconds",
			Help:    "Duration of inbound requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		inFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "requests_in_flight",
			Help: "Number of inbound requests being served",
		}),
		rateLimitAllowed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "middleware",
			Name: "rate_limit_allowed_total",
			Help: "Total number of requests allowed by the rate limiter",
		}),
		rateLimitRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "middleware",
			Name: "rate_limit_rejected_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
		rateLimitErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "middleware",
			Name: "rate_limit_errors_total",
			Help: "Total number of rate limiter errors that let the request through",
		}),
		backstopRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "middleware",
			Name: "backstop_requests_total",
			Help: "Total number of requests seen by the backstop breaker by outcome",
		}, []string{"outcome"}),
		backstopTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "middleware",
			Name: "backstop_transitions_total",
			Help: "Total number of backstop breaker state transitions",
		}, []string{"from", "to"}),
		authFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "middleware",
			Name: "auth_failures_total",
			Help: "Total number of requests presenting an unknown API key",
		}),
		panicsRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "middleware",
			Name: "panics_recovered_total",
			Help: "Total number of panics recovered",
		}),
	}
}

// Metrics records request totals, latency and in-flight requests.
func Metrics() gin.HandlerFunc {
	m := GetMiddlewareMetrics()
	return func(c *gin.Context) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		c.Next()

		route := c.GetString(RouteKey)
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method
		m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
