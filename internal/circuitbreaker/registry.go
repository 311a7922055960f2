package circuitbreaker

import (
	"sort"
	"sync"

	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// Registry owns the circuit breakers of every service. Breakers are
// created lazily on first use.
type Registry struct {
	breakers sync.Map
	defaults Config
	opts     []Option
	logger   observability.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger handed to every breaker.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithBreakerOptions appends options applied to every created breaker.
func WithBreakerOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.opts = append(r.opts, opts...)
	}
}

// NewRegistry creates a registry whose breakers use defaults for any
// zero threshold or timeout.
func NewRegistry(defaults Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaults: defaults,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns a circuit breaker by name, or nil if not found.
func (r *Registry) Get(name string) *CircuitBreaker {
	value, ok := r.breakers.Load(name)
	if !ok {
		return nil
	}
	return value.(*CircuitBreaker)
}

// GetOrCreate returns the breaker for name, creating it with cfg when it
// does not exist yet.
func (r *Registry) GetOrCreate(name string, cfg Config) *CircuitBreaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*CircuitBreaker)
	}

	cfg = r.withDefaults(cfg)
	opts := append([]Option{WithLogger(r.logger)}, r.opts...)
	cb := New(name, cfg, opts...)

	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(*CircuitBreaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("name", name),
		observability.Int("threshold", cfg.Threshold),
		observability.Duration("recovery_timeout", cfg.RecoveryTimeout),
	)
	return cb
}

// Sync applies new thresholds to existing breakers and drops breakers of
// services that no longer exist. The state of kept breakers survives.
func (r *Registry) Sync(configs map[string]Config) {
	r.breakers.Range(func(key, value any) bool {
		name := key.(string)
		cfg, ok := configs[name]
		if !ok {
			r.Remove(name)
			return true
		}
		value.(*CircuitBreaker).Reconfigure(r.withDefaults(cfg))
		return true
	})
}

// Remove removes a circuit breaker and its state gauge.
func (r *Registry) Remove(name string) {
	r.breakers.Delete(name)
	StateGauge.DeleteLabelValues(name)
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_, value any) bool {
		value.(*CircuitBreaker).Reset()
		return true
	})
	r.logger.Info("reset all circuit breakers")
}

// Snapshots returns the state of every breaker ordered by name.
func (r *Registry) Snapshots() []Snapshot {
	var out []Snapshot
	r.breakers.Range(func(_, value any) bool {
		out = append(out, value.(*CircuitBreaker).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) withDefaults(cfg Config) Config {
	if cfg.Threshold < 1 {
		cfg.Threshold = r.defaults.Threshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = r.defaults.RecoveryTimeout
	}
	return cfg
}
