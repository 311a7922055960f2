package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vyrodovalexey/svcgw/internal/aggregator"
	"github.com/vyrodovalexey/svcgw/internal/backend"
	"github.com/vyrodovalexey/svcgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/gateway"
	"github.com/vyrodovalexey/svcgw/internal/health"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/proxy"
	"github.com/vyrodovalexey/svcgw/internal/ratelimit"
	"github.com/vyrodovalexey/svcgw/internal/repository"
	"github.com/vyrodovalexey/svcgw/internal/router"
	"github.com/vyrodovalexey/svcgw/internal/transform"
)

// startupTimeout bounds repository and Redis connection at startup.
const startupTimeout = 30 * time.Second

// application holds all application components.
type application struct {
	config        *config.GatewayConfig
	gateway       *gateway.Gateway
	repo          repository.Repository
	registry      *backend.Registry
	supervisor    *backend.Supervisor
	pool          *backend.ConnectionPool
	limiter       ratelimit.Limiter
	health        *health.Handler
	tracer        *observability.Tracer
	metricsServer *http.Server
}

// initApplication initializes all application components.
func initApplication(cfg *config.GatewayConfig, logger observability.Logger) *application {
	app, err := buildApplication(context.Background(), cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize gateway", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}
	return app
}

// buildApplication wires every component. Nothing is started.
func buildApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	app := &application{
		config: cfg,
		tracer: initTracer(cfg, logger),
		health: health.NewHandler(version, health.WithLogger(logger)),
	}

	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.repo = repo
	app.health.AddCheck(health.PingCheck("repository", repo))

	app.registry = backend.NewRegistry(backend.WithRegistryLogger(logger))
	breakers := circuitbreaker.NewRegistry(
		circuitbreaker.ConfigFromService(cfg.CircuitBreaker),
		circuitbreaker.WithRegistryLogger(logger),
	)

	rt, err := router.New(repo, app.registry,
		router.WithLogger(logger),
		router.WithLoadBalancer(backend.NewLoadBalancer(cfg.LoadBalancer.Strategy)),
		router.WithBreakers(breakers),
	)
	if err != nil {
		return nil, err
	}
	if err := rt.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load routing table: %w", err)
	}
	app.health.AddCheck(health.BackendsCheck(func() []health.ServiceHealth {
		statuses := app.registry.Statuses()
		out := make([]health.ServiceHealth, 0, len(statuses))
		for _, s := range statuses {
			out = append(out, health.ServiceHealth{Name: s.Name, Active: s.Active, Healthy: s.Healthy})
		}
		return out
	}))

	app.pool = backend.NewConnectionPool(backend.DefaultPoolConfig())
	app.supervisor = backend.NewSupervisor(app.registry,
		backend.WithSupervisorLogger(logger),
		backend.WithMonitorOptions(backend.WithHealthCheckClient(app.pool.Client())),
	)

	evaluator, err := transform.NewEvaluator(transform.WithEvaluatorLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create expression evaluator: %w", err)
	}
	transformer, err := transform.New(transform.WithLogger(logger), transform.WithEvaluator(evaluator))
	if err != nil {
		return nil, fmt.Errorf("create transformer: %w", err)
	}

	fwd := proxy.New(rt,
		proxy.WithLogger(logger),
		proxy.WithHTTPClient(app.pool.Client()),
		proxy.WithTransformer(transformer),
		proxy.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	agg := aggregator.New(fwd,
		aggregator.WithLogger(logger),
		aggregator.WithEvaluator(evaluator),
		aggregator.WithWorkers(cfg.Aggregator.Workers),
		aggregator.WithCallTimeout(cfg.Aggregator.CallTimeout.Duration()),
	)

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithRepository(repo),
		gateway.WithSupervisor(app.supervisor),
		gateway.WithHealth(app.health),
		gateway.WithTracer(app.tracer),
	}
	if cfg.RateLimit.Enabled {
		app.limiter = newLimiter(ctx, cfg.RateLimit, logger, app.health)
		opts = append(opts, gateway.WithLimiter(app.limiter))
	}

	app.gateway, err = gateway.New(cfg, rt, fwd, agg, opts...)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// openRepository opens the configuration repository. A SQL repository is
// seeded with the inline records when repository.seed is set.
func openRepository(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (repository.Repository, error) {
	switch cfg.Repository.Driver {
	case "", config.RepositoryMemory:
		return repository.NewMemoryFromConfig(cfg), nil
	default:
		repo, err := repository.OpenSQL(ctx, cfg.Repository.Driver, cfg.Repository.DSN, repository.WithSQLLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open %s repository: %w", cfg.Repository.Driver, err)
		}
		if cfg.Repository.Seed {
			if err := repo.Seed(ctx, cfg.Services, cfg.Routes, cfg.Aggregations); err != nil {
				_ = repo.Close()
				return nil, fmt.Errorf("seed repository: %w", err)
			}
		}
		logger.Info("configuration repository opened",
			observability.String("driver", cfg.Repository.Driver),
			observability.Bool("seeded", cfg.Repository.Seed),
		)
		return repo, nil
	}
}

// newLimiter builds the inbound rate limiter. A Redis limiter shares the
// budget across replicas and falls back to a local one while Redis is
// unreachable. When Redis cannot be dialed at startup only the local
// limiter is used.
func newLimiter(
	ctx context.Context,
	cfg config.RateLimitConfig,
	logger observability.Logger,
	h *health.Handler,
) ratelimit.Limiter {
	rlCfg := ratelimit.ConfigFromGateway(cfg)
	local := ratelimit.NewLocalLimiter(rlCfg, ratelimit.WithLocalLogger(logger))
	local.Start()

	if cfg.RedisAddress == "" {
		return local
	}

	opts := []ratelimit.RedisOption{
		ratelimit.WithRedisLogger(logger),
		ratelimit.WithFallback(local),
	}
	if cfg.RedisPrefix != "" {
		opts = append(opts, ratelimit.WithPrefix(cfg.RedisPrefix))
	}
	rl, err := ratelimit.DialRedis(ctx, cfg.RedisAddress, cfg.RedisDB, rlCfg, opts...)
	if err != nil {
		logger.Warn("redis rate limiter unavailable, using local limiter",
			observability.String("address", cfg.RedisAddress),
			observability.Error(err),
		)
		return local
	}
	rl.Start()
	h.AddCheck(health.PingCheck("redis", rl, health.WithCritical(false)))
	return rl
}
