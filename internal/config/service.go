package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Health check types.
const (
	HealthCheckHTTP   = "http"
	HealthCheckTCP    = "tcp"
	HealthCheckCustom = "custom"
)

// Load balancing strategies.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyRandom           = "random"
	StrategyWeightedRandom   = "weighted_random"
	StrategyLeastConnections = "least_connections"
	StrategyIPHash           = "ip_hash"
)

// Defaults applied to services that leave the field empty.
const (
	DefaultServiceTimeout      = 30 * time.Second
	DefaultServiceWeight       = 100
	DefaultMaxRetries          = 3
	DefaultHealthCheckPath     = "/health"
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultCBThreshold         = 5
	DefaultCBRecoveryTimeout   = 60 * time.Second
)

// Service is a registered backend the gateway can forward requests to.
type Service struct {
	Name           string               `yaml:"name" json:"name"`
	BaseURL        string               `yaml:"baseUrl" json:"baseUrl"`
	Timeout        Duration             `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Weight         *int                 `yaml:"weight,omitempty" json:"weight,omitempty"`
	MaxRetries     *int                 `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	LoadBalancer   string               `yaml:"loadBalancer,omitempty" json:"loadBalancer,omitempty"`
	HealthCheck    HealthCheck          `yaml:"healthCheck,omitempty" json:"healthCheck,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	Auth           ServiceAuth          `yaml:"auth,omitempty" json:"auth,omitempty"`
	Active         *bool                `yaml:"active,omitempty" json:"active,omitempty"`
	Instances      []Instance           `yaml:"instances,omitempty" json:"instances,omitempty"`
}

// HealthCheck configures the background check of a service.
type HealthCheck struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Type     string   `yaml:"type,omitempty" json:"type,omitempty"`
	Path     string   `yaml:"path,omitempty" json:"path,omitempty"`
	Interval Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Checker names a registered custom checker. Only used when Type is custom.
	Checker string `yaml:"checker,omitempty" json:"checker,omitempty"`
}

// CircuitBreakerConfig configures the per-service circuit breaker.
type CircuitBreakerConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	Threshold       int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	RecoveryTimeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ServiceAuth holds the credentials the gateway presents to a backend.
type ServiceAuth struct {
	Required bool   `yaml:"required" json:"required"`
	APIKey   string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
}

// Instance is one concrete endpoint implementing a service.
type Instance struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Weight *int   `yaml:"weight,omitempty" json:"weight,omitempty"`
	Scheme string `yaml:"scheme,omitempty" json:"scheme,omitempty"`
}

// IsActive reports whether the service takes traffic. Services are active
// unless explicitly disabled.
func (s *Service) IsActive() bool {
	return s.Active == nil || *s.Active
}

// EffectiveWeight returns the configured weight or the default.
func (s *Service) EffectiveWeight() int {
	if s.Weight == nil {
		return DefaultServiceWeight
	}
	return *s.Weight
}

// EffectiveMaxRetries returns the configured retry budget or the default.
func (s *Service) EffectiveMaxRetries() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// EffectiveTimeout returns the per-call backend timeout.
func (s *Service) EffectiveTimeout() time.Duration {
	return s.Timeout.OrDefault(DefaultServiceTimeout)
}

// EffectiveType returns the check type, http when unset.
func (h HealthCheck) EffectiveType() string {
	if h.Type == "" {
		return HealthCheckHTTP
	}
	return h.Type
}

// EffectivePath returns the check path, /health when unset.
func (h HealthCheck) EffectivePath() string {
	if h.Path == "" {
		return DefaultHealthCheckPath
	}
	return h.Path
}

// EffectiveInterval returns the delay between check iterations.
func (h HealthCheck) EffectiveInterval() time.Duration {
	return h.Interval.OrDefault(DefaultHealthCheckInterval)
}

// EffectiveTimeout returns the timeout of a single check.
func (h HealthCheck) EffectiveTimeout() time.Duration {
	return h.Timeout.OrDefault(DefaultHealthCheckTimeout)
}

// EffectiveThreshold returns the failure threshold.
func (c CircuitBreakerConfig) EffectiveThreshold() int {
	if c.Threshold <= 0 {
		return DefaultCBThreshold
	}
	return c.Threshold
}

// EffectiveRecoveryTimeout returns how long the breaker stays open.
func (c CircuitBreakerConfig) EffectiveRecoveryTimeout() time.Duration {
	return c.RecoveryTimeout.OrDefault(DefaultCBRecoveryTimeout)
}

// EffectiveWeight returns the configured weight or the default.
func (i *Instance) EffectiveWeight() int {
	if i.Weight == nil {
		return DefaultServiceWeight
	}
	return *i.Weight
}

// Address returns host:port.
func (i *Instance) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// URL returns the base URL of the instance.
func (i *Instance) URL() string {
	scheme := i.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, i.Address())
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
