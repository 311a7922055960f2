package middleware

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// BackstopName names the gateway-wide breaker.
const BackstopName = "gateway"

// BackstopStateFunc is called when the backstop breaker changes state.
type BackstopStateFunc func(from, to gobreaker.State)

// Backstop is a gateway-wide breaker around the whole handler. It opens
// after MaxFailures consecutive 5xx responses, independent of which
// service produced them, and sheds load until Timeout elapses.
type Backstop struct {
	cb       *gobreaker.CircuitBreaker
	logger   observability.Logger
	onChange BackstopStateFunc
}

// BackstopOption configures a Backstop.
type BackstopOption func(*Backstop)

// WithBackstopLogger sets the logger.
func WithBackstopLogger(logger observability.Logger) BackstopOption {
	return func(b *Backstop) {
		b.logger = logger
	}
}

// WithBackstopStateCallback sets a callback for state changes.
func WithBackstopStateCallback(fn BackstopStateFunc) BackstopOption {
	return func(b *Backstop) {
		b.onChange = fn
	}
}

// NewBackstop creates the breaker from the backstop section.
func NewBackstop(cfg config.BackstopConfig, opts ...BackstopOption) *Backstop {
	b := &Backstop{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}

	maxFailures := toUint32(cfg.MaxFailures, config.DefaultBackstopFailures)
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultBackstopTimeout
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        BackstopName,
		MaxRequests: toUint32(cfg.HalfOpenMax, 1),
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: b.stateChanged,
	})
	return b
}

func (b *Backstop) stateChanged(name string, from, to gobreaker.State) {
	b.logger.Warn("backstop breaker state change",
		observability.String("name", name),
		observability.String("from", from.String()),
		observability.String("to", to.String()),
	)
	GetMiddlewareMetrics().backstopTransitions.WithLabelValues(from.String(), to.String()).Inc()

	_, span := observability.StartSpan(context.Background(), "backstop.state_change",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.AddEvent("state_change", trace.WithAttributes(
		attribute.String("circuitbreaker.name", name),
		attribute.String("circuitbreaker.from", from.String()),
		attribute.String("circuitbreaker.to", to.String()),
	))
	span.End()

	if b.onChange != nil {
		b.onChange(from, to)
	}
}

func toUint32(n, fallback int) uint32 {
	if n <= 0 {
		n = fallback
	}
	if int64(n) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// State returns the current breaker state.
func (b *Backstop) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the breaker counters of the current generation.
func (b *Backstop) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Handler returns the middleware. A 5xx response counts as a failure.
func (b *Backstop) Handler() gin.HandlerFunc {
	m := GetMiddlewareMetrics()
	return func(c *gin.Context) {
		_, err := b.cb.Execute(func() (any, error) {
			c.Next()
			if status := c.Writer.Status(); status >= http.StatusInternalServerError {
				return nil, util.NewServerError(status)
			}
			return nil, nil
		})

		switch {
		case err == nil:
			m.backstopRequests.WithLabelValues("success").Inc()
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			m.backstopRequests.WithLabelValues("rejected").Inc()
			b.logger.Debug("backstop breaker rejected request",
				observability.String("path", c.Request.URL.Path),
				observability.String("state", b.State().String()),
			)
			util.WriteError(c.Writer, util.NewCircuitOpenError(BackstopName, b.State().String()))
			c.Abort()
		default:
			m.backstopRequests.WithLabelValues("failure").Inc()
		}
	}
}
