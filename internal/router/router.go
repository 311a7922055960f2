package router

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/maypok86/otter/v2"

	"github.com/vyrodovalexey/svcgw/internal/backend"
	"github.com/vyrodovalexey/svcgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/repository"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// DefaultCacheSize bounds the number of cached (method, path) lookups.
const DefaultCacheSize = 10000

// CompiledRoute is a route with its pattern compiled.
type CompiledRoute struct {
	Config  config.Route
	matcher *ParameterMatcher
}

// Key returns the route identifier.
func (r *CompiledRoute) Key() string {
	return r.Config.Key()
}

// Params extracts the placeholder values of path.
func (r *CompiledRoute) Params(path string) (map[string]string, bool) {
	ok, params := r.matcher.Match(path)
	return params, ok
}

// Match is the result of FindRoute.
type Match struct {
	Route      *CompiledRoute
	PathParams map[string]string
}

// AggregationMatch is the result of FindAggregation.
type AggregationMatch struct {
	Aggregation config.Aggregation
	PathParams  map[string]string
}

type compiledPattern struct {
	matcher *ParameterMatcher
	methods map[string]struct{}
}

type cacheEntry struct {
	generation  uint64
	route       *CompiledRoute
	aggregation *config.Aggregation
	params      map[string]string
}

// Router matches inbound requests to routes and aggregations and
// resolves the backend URL of a call. It owns the route-match cache and
// the circuit breakers of every service.
type Router struct {
	repo     repository.Repository
	registry *backend.Registry
	lb       *backend.LoadBalancer
	breakers *circuitbreaker.Registry
	logger   observability.Logger

	mu          sync.RWMutex
	routes      []*CompiledRoute
	aggPatterns []*compiledPattern

	cache      *otter.Cache[string, *cacheEntry]
	cacheSize  int
	generation atomic.Uint64
}

// Option is a functional option for configuring the router.
type Option func(*Router)

// WithLogger sets the logger for the router.
func WithLogger(logger observability.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithLoadBalancer replaces the default weighted random load balancer.
func WithLoadBalancer(lb *backend.LoadBalancer) Option {
	return func(r *Router) {
		r.lb = lb
	}
}

// WithBreakers replaces the default circuit breaker registry.
func WithBreakers(breakers *circuitbreaker.Registry) Option {
	return func(r *Router) {
		r.breakers = breakers
	}
}

// WithCacheSize sets the capacity of the route-match cache.
func WithCacheSize(size int) Option {
	return func(r *Router) {
		r.cacheSize = size
	}
}

// New creates a router over repo. The registry receives the services on
// every Reload. Call Reload before serving requests.
func New(repo repository.Repository, registry *backend.Registry, opts ...Option) (*Router, error) {
	r := &Router{
		repo:      repo,
		registry:  registry,
		logger:    observability.NopLogger(),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.lb == nil {
		r.lb = backend.NewLoadBalancer(config.StrategyWeightedRandom)
	}
	if r.breakers == nil {
		r.breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold:       config.DefaultCBThreshold,
			RecoveryTimeout: config.DefaultCBRecoveryTimeout,
		}, circuitbreaker.WithRegistryLogger(r.logger))
	}

	cache, err := otter.New(&otter.Options[string, *cacheEntry]{MaximumSize: r.cacheSize})
	if err != nil {
		return nil, fmt.Errorf("create route cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

// Breakers returns the circuit breaker registry.
func (r *Router) Breakers() *circuitbreaker.Registry {
	return r.breakers
}

// Registry returns the service registry.
func (r *Router) Registry() *backend.Registry {
	return r.registry
}

// Reload reads routes, aggregations and services from the repository,
// updates the service registry and circuit breakers and invalidates the
// route-match cache.
func (r *Router) Reload(ctx context.Context) error {
	routes, err := r.repo.ListActiveRoutes(ctx)
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}
	compiled, err := compileRoutes(routes)
	if err != nil {
		return err
	}

	aggregations, err := r.repo.ListAggregations(ctx)
	if err != nil {
		return fmt.Errorf("load aggregations: %w", err)
	}
	patterns, err := compileAggregationPatterns(aggregations)
	if err != nil {
		return err
	}

	previous := r.registry.All()
	if err := r.registry.Load(ctx, r.repo); err != nil {
		return err
	}
	for _, svc := range previous {
		if _, ok := r.registry.Get(svc.Name()); !ok {
			r.lb.Forget(svc.Name())
		}
	}

	breakerConfigs := make(map[string]circuitbreaker.Config)
	for _, svc := range r.registry.All() {
		cfg := svc.Config()
		if cfg.CircuitBreaker.Enabled {
			breakerConfigs[svc.Name()] = circuitbreaker.ConfigFromService(cfg.CircuitBreaker)
		}
	}
	r.breakers.Sync(breakerConfigs)

	r.mu.Lock()
	r.routes = compiled
	r.aggPatterns = patterns
	r.mu.Unlock()

	r.InvalidateCache()

	r.logger.Info("routing table loaded",
		observability.Int("routes", len(compiled)),
		observability.Int("aggregations", len(aggregations)),
		observability.Int("services", len(r.registry.All())),
	)
	return nil
}

// CheckRoutes compiles the patterns of routes and aggregations without
// touching the loaded table.
func CheckRoutes(routes []config.Route, aggregations []config.Aggregation) error {
	if _, err := compileRoutes(routes); err != nil {
		return err
	}
	_, err := compileAggregationPatterns(aggregations)
	return err
}

// compileRoutes compiles route patterns. A service path may only use
// placeholders captured by its route pattern.
func compileRoutes(routes []config.Route) ([]*CompiledRoute, error) {
	compiled := make([]*CompiledRoute, 0, len(routes))
	for i := range routes {
		field := "routes[" + routes[i].Key() + "]"
		m, err := NewParameterMatcher(routes[i].PathPattern)
		if err != nil {
			return nil, util.NewConfigErrorWithCause(field, "invalid path pattern", err)
		}
		if HasPathParameters(routes[i].ServicePath) {
			pieces, err := splitPattern(routes[i].ServicePath)
			if err != nil {
				return nil, util.NewConfigErrorWithCause(field, "invalid service path", err)
			}
			for _, p := range pieces {
				if p.param && !slices.Contains(m.Names(), p.value) {
					return nil, util.NewConfigError(field,
						fmt.Sprintf("service path placeholder {%s} is not captured by the path pattern", p.value))
				}
			}
		}
		compiled = append(compiled, &CompiledRoute{Config: routes[i], matcher: m})
	}
	return compiled, nil
}

func compileAggregationPatterns(aggregations []config.Aggregation) ([]*compiledPattern, error) {
	byPattern := make(map[string]*compiledPattern)
	var out []*compiledPattern
	for i := range aggregations {
		a := &aggregations[i]
		p, ok := byPattern[a.RequestPath]
		if !ok {
			m, err := NewParameterMatcher(a.RequestPath)
			if err != nil {
				return nil, util.NewConfigErrorWithCause("aggregations["+a.Name+"]", "invalid request path", err)
			}
			p = &compiledPattern{matcher: m, methods: make(map[string]struct{})}
			byPattern[a.RequestPath] = p
			out = append(out, p)
		}
		p.methods[a.EffectiveMethod()] = struct{}{}
	}
	return out, nil
}

// InvalidateCache drops every cached lookup.
func (r *Router) InvalidateCache() {
	r.generation.Add(1)
	r.cache.InvalidateAll()
	cacheInvalidations.Inc()
}

// FindRoute returns the active route with the highest priority whose
// pattern matches path and whose method is method or *. Among routes of
// equal priority the first one in repository order wins.
func (r *Router) FindRoute(path, method string) (*Match, error) {
	method = strings.ToUpper(method)
	key := "route " + method + " " + path
	gen := r.generation.Load()

	if e, ok := r.cache.GetIfPresent(key); ok && e.generation == gen {
		cacheHits.WithLabelValues("route").Inc()
		if e.route == nil {
			return nil, util.NewRouteNotFoundError(method, path)
		}
		return &Match{Route: e.route, PathParams: copyParams(e.params)}, nil
	}
	cacheMisses.WithLabelValues("route").Inc()

	r.mu.RLock()
	var (
		found  *CompiledRoute
		params map[string]string
	)
	for _, route := range r.routes {
		m := route.Config.EffectiveMethod()
		if m != config.MethodAny && m != method {
			continue
		}
		if ok, p := route.matcher.Match(path); ok {
			found, params = route, p
			break
		}
	}
	r.mu.RUnlock()

	r.cache.Set(key, &cacheEntry{generation: gen, route: found, params: params})
	if found == nil {
		return nil, util.NewRouteNotFoundError(method, path)
	}
	return &Match{Route: found, PathParams: copyParams(params)}, nil
}

// FindAggregation returns the first active aggregation whose request
// path pattern matches path and whose method is method or *. It returns
// nil without error when none matches.
func (r *Router) FindAggregation(ctx context.Context, path, method string) (*AggregationMatch, error) {
	method = strings.ToUpper(method)
	key := "aggregation " + method + " " + path
	gen := r.generation.Load()

	if e, ok := r.cache.GetIfPresent(key); ok && e.generation == gen {
		cacheHits.WithLabelValues("aggregation").Inc()
		if e.aggregation == nil {
			return nil, nil
		}
		return &AggregationMatch{Aggregation: *e.aggregation, PathParams: copyParams(e.params)}, nil
	}
	cacheMisses.WithLabelValues("aggregation").Inc()

	r.mu.RLock()
	patterns := r.aggPatterns
	r.mu.RUnlock()

	var (
		found  *config.Aggregation
		params map[string]string
	)
	for _, p := range patterns {
		if !methodAllowed(p.methods, method) {
			continue
		}
		ok, extracted := p.matcher.Match(path)
		if !ok {
			continue
		}
		aggs, err := r.repo.FindAggregations(ctx, p.matcher.Pattern(), method)
		if err != nil {
			return nil, fmt.Errorf("find aggregations: %w", err)
		}
		if len(aggs) > 0 {
			found, params = &aggs[0], extracted
			break
		}
	}

	r.cache.Set(key, &cacheEntry{generation: gen, aggregation: found, params: params})
	if found == nil {
		return nil, nil
	}
	return &AggregationMatch{Aggregation: *found, PathParams: copyParams(params)}, nil
}

func methodAllowed(methods map[string]struct{}, method string) bool {
	if _, ok := methods[config.MethodAny]; ok {
		return true
	}
	_, ok := methods[method]
	return ok
}

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
