package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/svcgw/internal/aggregator"
	"github.com/vyrodovalexey/svcgw/internal/backend"
	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/health"
	"github.com/vyrodovalexey/svcgw/internal/middleware"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/proxy"
	"github.com/vyrodovalexey/svcgw/internal/ratelimit"
	"github.com/vyrodovalexey/svcgw/internal/repository"
	"github.com/vyrodovalexey/svcgw/internal/router"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway is the HTTP boundary of the service gateway.
type Gateway struct {
	config     atomic.Pointer[config.GatewayConfig]
	auth       atomic.Pointer[middleware.Authenticator]
	logger     observability.Logger
	router     *router.Router
	forwarder  *proxy.Forwarder
	aggregator *aggregator.Aggregator

	repo       repository.Repository
	supervisor *backend.Supervisor
	health     *health.Handler
	limiter    ratelimit.Limiter
	backstop   *middleware.Backstop
	tracer     *observability.Tracer
	listenAddr string

	engine    *gin.Engine
	listener  *Listener
	state     atomic.Int32
	startTime time.Time
	reloadMu  sync.Mutex

	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithShutdownTimeout overrides server.shutdownTimeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.shutdownTimeout = timeout
	}
}

// WithRepository sets the configuration repository. A memory repository
// receives the records of every reloaded configuration file.
func WithRepository(repo repository.Repository) Option {
	return func(g *Gateway) {
		g.repo = repo
	}
}

// WithSupervisor sets the health-check supervisor synced on reload.
func WithSupervisor(s *backend.Supervisor) Option {
	return func(g *Gateway) {
		g.supervisor = s
	}
}

// WithHealth sets the check handler.
func WithHealth(h *health.Handler) Option {
	return func(g *Gateway) {
		g.health = h
	}
}

// WithLimiter enables rate limiting with l when rateLimit.enabled is set.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(g *Gateway) {
		g.limiter = l
	}
}

// WithTracer enables server spans.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithListenAddress overrides the address derived from server.port.
func WithListenAddress(addr string) Option {
	return func(g *Gateway) {
		g.listenAddr = addr
	}
}

// New creates a gateway. rt, fwd and agg are required.
func New(
	cfg *config.GatewayConfig,
	rt *router.Router,
	fwd *proxy.Forwarder,
	agg *aggregator.Aggregator,
	opts ...Option,
) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if rt == nil || fwd == nil || agg == nil {
		return nil, ErrMissingComponent
	}

	g := &Gateway{
		router:     rt,
		forwarder:  fwd,
		aggregator: agg,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.shutdownTimeout <= 0 {
		g.shutdownTimeout = cfg.Server.ShutdownTimeout.OrDefault(config.DefaultShutdownTimeout)
	}
	if g.health == nil {
		g.health = health.NewHandler("", health.WithLogger(g.logger))
	}
	if cfg.Backstop.Enabled {
		g.backstop = middleware.NewBackstop(cfg.Backstop, middleware.WithBackstopLogger(g.logger))
	}

	g.config.Store(cfg)
	g.auth.Store(middleware.NewAuthenticator(cfg.Auth.APIKeys))
	g.state.Store(int32(StateStopped))
	g.engine = g.buildEngine(cfg)

	return g, nil
}

// buildEngine wires admin endpoints and the gateway pipeline.
func (g *Gateway) buildEngine(cfg *config.GatewayConfig) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.Recovery(g.logger), middleware.RequestID())

	g.registerAdminRoutes(engine, cfg)

	chain := make([]gin.HandlerFunc, 0, 8)
	if g.tracer != nil {
		chain = append(chain, middleware.Tracing(g.tracer))
	}
	chain = append(chain, middleware.ClientIP(middleware.NewClientIPExtractor(cfg.Server.TrustedProxies)))
	if cfg.Observability.AccessLog {
		chain = append(chain, middleware.AccessLog(g.logger))
	}
	chain = append(chain, middleware.Metrics())
	if cfg.RateLimit.Enabled && g.limiter != nil {
		chain = append(chain, middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:   g.limiter,
			PerClient: cfg.RateLimit.PerClient,
			Logger:    g.logger,
		}))
	}
	if g.backstop != nil {
		chain = append(chain, g.backstop.Handler())
	}
	chain = append(chain, g.authenticate, g.handle)

	// Gateway paths are not known to gin up front.
	engine.NoRoute(chain...)
	return engine
}

// authenticate runs the auth middleware with the authenticator of the
// current configuration.
func (g *Gateway) authenticate(c *gin.Context) {
	middleware.Auth(g.auth.Load(), g.logger)(c)
}

// Start starts the gateway.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	cfg := g.Config()
	g.logger.Info("starting gateway",
		observability.Int("port", cfg.Server.Port),
		observability.String("prefix", cfg.Server.Prefix),
	)

	lopts := []ListenerOption{WithListenerLogger(g.logger)}
	if g.listenAddr != "" {
		lopts = append(lopts, WithListenerAddress(g.listenAddr))
	}
	g.listener = NewListener("gateway", cfg.Server, g.engine, lopts...)
	if err := g.listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener: %w", err)
	}

	g.startTime = time.Now()
	g.health.SetDraining(false)
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started", observability.String("address", g.listener.Address()))
	return nil
}

// Stop stops the gateway gracefully. Readiness fails while in-flight
// requests drain.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")
	g.health.SetDraining(true)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	err := g.listener.Stop(ctx)
	g.state.Store(int32(StateStopped))

	if err != nil {
		g.logger.Error("gateway stopped with error", observability.Error(err))
		return err
	}
	g.logger.Info("gateway stopped")
	return nil
}

// Reload applies a new configuration. Records of a memory repository
// are replaced; the routing table, circuit breakers and health monitors
// follow the repository. Server, rate limit and backstop settings take
// effect on restart.
func (g *Gateway) Reload(ctx context.Context, cfg *config.GatewayConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	g.logger.Info("reloading gateway configuration",
		observability.Int("services", len(cfg.Services)),
		observability.Int("routes", len(cfg.Routes)),
		observability.Int("aggregations", len(cfg.Aggregations)),
	)

	if err := router.CheckRoutes(cfg.Routes, cfg.Aggregations); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if mem, ok := g.repo.(*repository.Memory); ok {
		if err := g.replaceRecords(ctx, mem, cfg); err != nil {
			return err
		}
	} else if err := g.router.Reload(ctx); err != nil {
		return fmt.Errorf("reload routing table: %w", err)
	}
	if g.supervisor != nil {
		g.supervisor.Sync()
	}

	g.auth.Store(middleware.NewAuthenticator(cfg.Auth.APIKeys))
	g.config.Store(cfg)

	g.logger.Info("gateway configuration reloaded",
		observability.Bool("maintenance", cfg.Maintenance.Enabled),
	)
	return nil
}

// replaceRecords swaps the records of mem and reloads the routing table.
// The previous records are restored when the table cannot be loaded.
func (g *Gateway) replaceRecords(ctx context.Context, mem *repository.Memory, cfg *config.GatewayConfig) error {
	prev, err := repository.Load(ctx, mem)
	if err != nil {
		return fmt.Errorf("snapshot records: %w", err)
	}

	mem.Replace(cfg.Services, cfg.Routes, cfg.Aggregations)
	if err := g.router.Reload(ctx); err != nil {
		mem.Replace(prev.Services, prev.Routes, prev.Aggregations)
		if rerr := g.router.Reload(ctx); rerr != nil {
			g.logger.Error("failed to restore routing table", observability.Error(rerr))
		}
		return fmt.Errorf("reload routing table: %w", err)
	}
	return nil
}

// Refresh reloads the routing table from the repository without a new
// configuration file.
func (g *Gateway) Refresh(ctx context.Context) error {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()

	if err := g.router.Reload(ctx); err != nil {
		return err
	}
	if g.supervisor != nil {
		g.supervisor.Sync()
	}
	return nil
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.GatewayConfig {
	return g.config.Load()
}

// Handler returns the HTTP handler of the gateway.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Address returns the listener address, empty before Start.
func (g *Gateway) Address() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Address()
}
