package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HealthMetrics holds Prometheus metrics for health checks.
type HealthMetrics struct {
	requests    *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

var (
	healthMetricsInstance *HealthMetrics
	healthMetricsOnce     sync.Once
)

// GetHealthMetrics returns the singleton health metrics instance.
func GetHealthMetrics() *HealthMetrics {
	healthMetricsOnce.Do(func() {
		healthMetricsInstance = &HealthMetrics{
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "svcgw",
					Subsystem: "health",
					Name:      "requests_total",
					Help:      "Total number of health endpoint requests served by type",
				},
				[]string{"type"},
			),
			checkStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "svcgw",
					Subsystem: "health",
					Name:      "check_status",
					Help:      "Last dependency check result (1=ok, 0=failing)",
				},
				[]string{"check"},
			),
		}
	})
	return healthMetricsInstance
}

func (m *HealthMetrics) observe(check string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	m.checkStatus.WithLabelValues(check).Set(v)
}
