package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/svcgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// Redis limiter defaults.
const (
	DefaultRedisPrefix         = "svcgw:ratelimit:"
	DefaultHealthCheckInterval = 5 * time.Second
	redisBreakerName           = "redis-ratelimit"
)

var _ Limiter = (*RedisLimiter)(nil)

// ErrRedisUnavailable is returned when Redis fails and no fallback is set.
var ErrRedisUnavailable = errors.New("redis is unavailable")

// tokenBucketScript refills and consumes a bucket stored as a hash.
// Returns: allowed (0 or 1), remaining tokens, ms until the bucket is full.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1])
	local last_update = tonumber(data[2])

	if tokens == nil then
		tokens = burst
		last_update = now
	end

	local elapsed = math.max(0, now - last_update) / 1000.0
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	if tokens >= requested then
		tokens = tokens - requested
		allowed = 1
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, math.ceil(burst / rate) + 1)

	local reset_ms = math.ceil((burst - tokens) / rate * 1000)

	return {allowed, math.floor(tokens), reset_ms}
`)

// RedisLimiter keeps token buckets in Redis so every gateway replica
// shares them. Redis calls go through a circuit breaker; while it is open
// or Redis errors, the fallback limiter decides.
type RedisLimiter struct {
	cfg      Config
	client   redis.UniversalClient
	prefix   string
	breaker  *circuitbreaker.CircuitBreaker
	fallback Limiter
	logger   observability.Logger
	interval time.Duration
	now      func() time.Time

	healthy  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	ownsConn bool
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(r *RedisLimiter) {
		r.logger = logger
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisLimiter) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithFallback sets the limiter used while Redis is unavailable.
func WithFallback(l Limiter) RedisOption {
	return func(r *RedisLimiter) {
		r.fallback = l
	}
}

// WithHealthCheckInterval sets how often Redis is pinged.
func WithHealthCheckInterval(d time.Duration) RedisOption {
	return func(r *RedisLimiter) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBreaker replaces the breaker guarding Redis calls.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) RedisOption {
	return func(r *RedisLimiter) {
		r.breaker = cb
	}
}

// NewRedisLimiter creates a limiter on an existing client. The client is
// not closed by Close.
func NewRedisLimiter(client redis.UniversalClient, cfg Config, opts ...RedisOption) *RedisLimiter {
	r := &RedisLimiter{
		cfg:      cfg,
		client:   client,
		prefix:   DefaultRedisPrefix,
		logger:   observability.NopLogger(),
		interval: DefaultHealthCheckInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuitbreaker.New(redisBreakerName, circuitbreaker.Config{
			Threshold:       5,
			RecoveryTimeout: 10 * time.Second,
		}, circuitbreaker.WithLogger(r.logger))
	}
	r.healthy.Store(true)
	redisHealthy.Set(1)
	return r
}

// DialRedis connects to addr and returns a limiter owning the connection.
// The connection is verified with a ping.
func DialRedis(ctx context.Context, addr string, db int, cfg Config, opts ...RedisOption) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	r := NewRedisLimiter(client, cfg, opts...)
	r.ownsConn = true
	return r, nil
}

// Allow consumes one token from the shared bucket of key.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	start := time.Now()

	res, err := r.allowRedis(ctx, key)
	redisDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		redisOperations.WithLabelValues("success").Inc()
		if !res.Allowed {
			rejectedTotal.WithLabelValues(backendRedis).Inc()
		}
		return res, nil
	}

	redisOperations.WithLabelValues("error").Inc()
	if r.fallback == nil {
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	r.logger.Debug("using fallback rate limiter",
		observability.String("key", key),
		observability.Error(err),
	)
	redisFallbackTotal.Inc()
	return r.fallback.Allow(ctx, key)
}

func (r *RedisLimiter) allowRedis(ctx context.Context, key string) (*Result, error) {
	if err := r.breaker.Allow(); err != nil {
		return nil, err
	}

	raw, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.prefix + key},
		r.cfg.RPS,
		r.cfg.Burst,
		r.now().UnixMilli(),
		1,
	).Result()
	if err != nil {
		if ctx.Err() != nil {
			r.breaker.Abandon()
		} else {
			r.breaker.RecordFailure(err)
		}
		return nil, fmt.Errorf("token bucket script error: %w", err)
	}
	r.breaker.RecordSuccess()

	return parseScriptResult(raw, r.cfg.Burst)
}

// parseScriptResult parses [allowed, remaining, reset_ms].
func parseScriptResult(raw any, limit int) (*Result, error) {
	values, ok := raw.([]any)
	if !ok || len(values) < 3 {
		return nil, fmt.Errorf("unexpected script result format: %v", raw)
	}

	allowed := false
	if v, ok := values[0].(int64); ok && v == 1 {
		allowed = true
	}

	remaining := 0
	if v, ok := values[1].(int64); ok && v > 0 {
		remaining = int(v)
	}

	var resetMs int64
	if v, ok := values[2].(int64); ok {
		resetMs = v
	}

	res := &Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: time.Duration(resetMs) * time.Millisecond,
	}
	if !allowed {
		// One token, not a full bucket, unblocks the caller.
		res.RetryAfter = res.ResetAfter
		if limit > 0 {
			res.RetryAfter = res.ResetAfter / time.Duration(limit)
		}
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Second
		}
	}
	return res, nil
}

// Start runs the Redis health check loop until Close is called.
func (r *RedisLimiter) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.checkHealth()
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *RedisLimiter) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := r.Ping(ctx)
	wasHealthy := r.healthy.Load()

	if err != nil {
		r.healthy.Store(false)
		redisHealthy.Set(0)
		if wasHealthy {
			r.logger.Warn("redis rate limiter health check failed", observability.Error(err))
		}
		return
	}

	r.healthy.Store(true)
	redisHealthy.Set(1)
	if !wasHealthy {
		r.logger.Info("redis rate limiter recovered")
	}
}

// Ping checks the Redis connection.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// IsHealthy reports the result of the last health check.
func (r *RedisLimiter) IsHealthy() bool {
	return r.healthy.Load()
}

// BreakerState returns the state of the breaker guarding Redis.
func (r *RedisLimiter) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}

// Close stops the health check loop, closes the fallback and, when the
// limiter dialed it, the Redis connection.
func (r *RedisLimiter) Close() error {
	var errs []string
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.fallback != nil {
			if err := r.fallback.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if r.ownsConn {
			if err := r.client.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("failed to close redis limiter: %s", strings.Join(errs, "; "))
	}
	return nil
}
