package config

import "time"

// Repository drivers.
const (
	RepositoryMemory = "memory"
	RepositorySQLite = "sqlite"
	RepositoryMySQL  = "mysql"
)

// GatewayConfig is the root of the gateway configuration file.
type GatewayConfig struct {
	Server         ServerConfig         `yaml:"server" json:"server"`
	Maintenance    MaintenanceConfig    `yaml:"maintenance,omitempty" json:"maintenance,omitempty"`
	Auth           AuthConfig           `yaml:"auth,omitempty" json:"auth,omitempty"`
	LoadBalancer   LoadBalancerConfig   `yaml:"loadBalancer,omitempty" json:"loadBalancer,omitempty"`
	Aggregator     AggregatorConfig     `yaml:"aggregator,omitempty" json:"aggregator,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	Backstop       BackstopConfig       `yaml:"backstop,omitempty" json:"backstop,omitempty"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Observability  ObservabilityConfig  `yaml:"observability,omitempty" json:"observability,omitempty"`
	Repository     RepositoryConfig     `yaml:"repository,omitempty" json:"repository,omitempty"`

	// Inline records served by the memory repository and used to seed a
	// SQL repository.
	Services     []Service     `yaml:"services,omitempty" json:"services,omitempty"`
	Routes       []Route       `yaml:"routes,omitempty" json:"routes,omitempty"`
	Aggregations []Aggregation `yaml:"aggregations,omitempty" json:"aggregations,omitempty"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Port            int      `yaml:"port,omitempty" json:"port,omitempty"`
	Prefix          string   `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
	MaxBodyBytes    int64    `yaml:"maxBodyBytes,omitempty" json:"maxBodyBytes,omitempty"`

	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For is
	// believed when resolving the client address.
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
}

// MaintenanceConfig short-circuits every gateway request with a 503.
type MaintenanceConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// AuthConfig lists the API keys accepted from callers of protected
// routes. Entries starting with "$2" are bcrypt hashes.
type AuthConfig struct {
	APIKeys []string `yaml:"apiKeys,omitempty" json:"apiKeys,omitempty"`
}

// LoadBalancerConfig selects the default instance selection strategy.
type LoadBalancerConfig struct {
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// AggregatorConfig bounds the aggregation worker pool.
type AggregatorConfig struct {
	Workers     int      `yaml:"workers,omitempty" json:"workers,omitempty"`
	CallTimeout Duration `yaml:"callTimeout,omitempty" json:"callTimeout,omitempty"`
}

// BackstopConfig configures the gateway-wide breaker that trips when the
// whole gateway fails repeatedly.
type BackstopConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	MaxFailures int      `yaml:"maxFailures,omitempty" json:"maxFailures,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	HalfOpenMax int      `yaml:"halfOpenMax,omitempty" json:"halfOpenMax,omitempty"`
}

// RateLimitConfig configures inbound rate limiting. When RedisAddress is
// set the limit is shared across gateway replicas.
type RateLimitConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	RPS          int    `yaml:"rps,omitempty" json:"rps,omitempty"`
	Burst        int    `yaml:"burst,omitempty" json:"burst,omitempty"`
	PerClient    bool   `yaml:"perClient,omitempty" json:"perClient,omitempty"`
	RedisAddress string `yaml:"redisAddress,omitempty" json:"redisAddress,omitempty"`
	RedisDB      int    `yaml:"redisDb,omitempty" json:"redisDb,omitempty"`
	RedisPrefix  string `yaml:"redisPrefix,omitempty" json:"redisPrefix,omitempty"`
}

// ObservabilityConfig groups logging, tracing and metrics settings.
type ObservabilityConfig struct {
	Logging   LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Tracing   TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Metrics   MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	AccessLog bool          `yaml:"accessLog,omitempty" json:"accessLog,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port,omitempty" json:"port,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// RepositoryConfig selects where routes, services and aggregations live.
type RepositoryConfig struct {
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	// Seed writes the inline records into an empty SQL repository.
	Seed bool `yaml:"seed,omitempty" json:"seed,omitempty"`
	// RefreshInterval periodically reloads records from a SQL repository.
	RefreshInterval Duration `yaml:"refreshInterval,omitempty" json:"refreshInterval,omitempty"`
}

// Default values of the root configuration.
const (
	DefaultPort               = 8080
	DefaultPrefix             = "/api"
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 60 * time.Second
	DefaultIdleTimeout        = 120 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultMaxBodyBytes       = 10 << 20
	DefaultMaintenanceMessage = "The gateway is under maintenance. Please try again later."
	DefaultWorkers            = 10
	DefaultCallTimeout        = 30 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultRateLimitRPS       = 100
	DefaultRateLimitBurst     = 200
	DefaultBackstopFailures   = 50
	DefaultBackstopTimeout    = 30 * time.Second
)

// ApplyDefaults fills every unset field with its default value.
func (c *GatewayConfig) ApplyDefaults() {
	s := &c.Server
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Prefix == "" {
		s.Prefix = DefaultPrefix
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Maintenance.Message == "" {
		c.Maintenance.Message = DefaultMaintenanceMessage
	}
	if c.LoadBalancer.Strategy == "" {
		c.LoadBalancer.Strategy = StrategyWeightedRandom
	}
	if c.Aggregator.Workers <= 0 {
		c.Aggregator.Workers = DefaultWorkers
	}
	if c.Aggregator.CallTimeout <= 0 {
		c.Aggregator.CallTimeout = Duration(DefaultCallTimeout)
	}
	if c.CircuitBreaker.Threshold <= 0 {
		c.CircuitBreaker.Threshold = DefaultCBThreshold
	}
	if c.CircuitBreaker.RecoveryTimeout <= 0 {
		c.CircuitBreaker.RecoveryTimeout = Duration(DefaultCBRecoveryTimeout)
	}
	if c.Backstop.MaxFailures <= 0 {
		c.Backstop.MaxFailures = DefaultBackstopFailures
	}
	if c.Backstop.Timeout <= 0 {
		c.Backstop.Timeout = Duration(DefaultBackstopTimeout)
	}
	if c.Backstop.HalfOpenMax <= 0 {
		c.Backstop.HalfOpenMax = 1
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = DefaultRateLimitRPS
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}

	o := &c.Observability
	if o.Logging.Level == "" {
		o.Logging.Level = "info"
	}
	if o.Logging.Format == "" {
		o.Logging.Format = "json"
	}
	if o.Tracing.ServiceName == "" {
		o.Tracing.ServiceName = "svcgw"
	}
	if o.Metrics.Port == 0 {
		o.Metrics.Port = DefaultMetricsPort
	}
	if o.Metrics.Path == "" {
		o.Metrics.Path = DefaultMetricsPath
	}

	if c.Repository.Driver == "" {
		c.Repository.Driver = RepositoryMemory
	}
}

// DefaultConfig returns a configuration with every default applied and no
// services, routes or aggregations.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{}
	cfg.ApplyDefaults()
	return cfg
}
