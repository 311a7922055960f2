package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	backendLocal = "local"
	backendRedis = "redis"
)

var (
	rejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"backend"},
	)

	redisOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "ratelimit",
			Name:      "redis_operations_total",
			Help:      "Total number of Redis rate limit operations",
		},
		[]string{"status"},
	)

	redisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "svcgw",
			Subsystem: "ratelimit",
			Name:      "redis_operation_duration_seconds",
			Help:      "Duration of Redis rate limit operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	redisFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "ratelimit",
			Name:      "redis_fallback_total",
			Help:      "Total number of times the fallback rate limiter was used",
		},
	)

	redisHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "svcgw",
			Subsystem: "ratelimit",
			Name:      "redis_healthy",
			Help:      "Whether the Redis rate limiter is healthy (1) or not (0)",
		},
	)
)
