package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "router",
			Name:      "cache_hits_total",
			Help:      "Total number of route-match cache hits",
		},
		[]string{"kind"},
	)

	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "router",
			Name:      "cache_misses_total",
			Help:      "Total number of route-match cache misses",
		},
		[]string{"kind"},
	)

	cacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "router",
			Name:      "cache_invalidations_total",
			Help:      "Total number of route-match cache invalidations",
		},
	)

	rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcgw",
			Subsystem: "router",
			Name:      "circuit_rejections_total",
			Help:      "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"service"},
	)
)
