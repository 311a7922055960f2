// Package health serves the gateway's liveness, readiness and health
// endpoints. Readiness runs the registered dependency checks in parallel;
// a failing critical check makes the gateway unready, a failing
// non-critical check only degrades it.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// Status values reported by the endpoints.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
	StatusDraining = "draining"
)

// DefaultCheckTimeout bounds one run of the readiness checks.
const DefaultCheckTimeout = 5 * time.Second

// Report is the body of /health and /ready.
type Report struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Uptime    string                  `json:"uptime,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Handler runs checks and serves the check endpoints.
type Handler struct {
	version   string
	logger    observability.Logger
	timeout   time.Duration
	startTime time.Time
	draining  atomic.Bool

	mu     sync.RWMutex
	checks []*Check
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithCheckTimeout bounds one run of the checks.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler creates a Handler reporting version.
func NewHandler(version string, opts ...Option) *Handler {
	h := &Handler{
		version:   version,
		logger:    observability.NopLogger(),
		timeout:   DefaultCheckTimeout,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck registers a check.
func (h *Handler) AddCheck(c *Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// SetDraining makes readiness fail while the gateway shuts down.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// Run executes every check concurrently and aggregates the outcome.
func (h *Handler) Run(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]*Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	report := &Report{
		Status:    StatusOK,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	m := GetHealthMetrics()
	for _, c := range checks {
		wg.Add(1)
		go func(c *Check) {
			defer wg.Done()

			start := time.Now()
			err := c.Run(ctx)
			elapsed := time.Since(start)

			res := &CheckResult{Status: StatusOK, Critical: c.Critical, Duration: elapsed.String()}
			if err != nil {
				res.Status = StatusError
				res.Error = err.Error()
				h.logger.Warn("health check failed",
					observability.String("check", c.Name),
					observability.Bool("critical", c.Critical),
					observability.Duration("duration", elapsed),
					observability.Error(err),
				)
			}
			m.observe(c.Name, err == nil)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[c.Name] = res
			switch {
			case err == nil:
			case c.Critical:
				report.Status = StatusError
			case report.Status == StatusOK:
				report.Status = StatusDegraded
			}
		}(c)
	}
	wg.Wait()

	if h.draining.Load() {
		report.Status = StatusDraining
	}
	return report
}

// statusCode maps a report to the check response code. A degraded
// gateway still serves traffic.
func statusCode(r *Report) int {
	if r.Status == StatusOK || r.Status == StatusDegraded {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// Live answers liveness checks without running checks.
func (h *Handler) Live(c *gin.Context) {
	GetHealthMetrics().requests.WithLabelValues("liveness").Inc()
	c.JSON(http.StatusOK, gin.H{"status": StatusOK, "timestamp": time.Now().UTC()})
}

// Ready answers readiness checks.
func (h *Handler) Ready(c *gin.Context) {
	GetHealthMetrics().requests.WithLabelValues("readiness").Inc()
	report := h.Run(c.Request.Context())
	c.JSON(statusCode(report), report)
}

// Health reports every check with uptime and version.
func (h *Handler) Health(c *gin.Context) {
	GetHealthMetrics().requests.WithLabelValues("health").Inc()
	report := h.Run(c.Request.Context())
	report.Uptime = time.Since(h.startTime).Round(time.Second).String()
	c.JSON(statusCode(report), report)
}

// RegisterRoutes mounts /health, /ready and /live on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/live", h.Live)
}
