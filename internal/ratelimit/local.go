package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// Local limiter defaults.
const (
	// DefaultKeyTTL is how long an idle bucket is kept.
	DefaultKeyTTL = 10 * time.Minute

	// MinCleanupInterval is the minimum interval for cleanup operations.
	MinCleanupInterval = 10 * time.Second

	// MaxCleanupInterval is the maximum interval for cleanup operations.
	MaxCleanupInterval = time.Minute
)

var _ Limiter = (*LocalLimiter)(nil)

// bucketEntry holds a limiter and its last access time for TTL-based cleanup.
type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LocalLimiter keeps one token bucket per key in memory.
type LocalLimiter struct {
	cfg    Config
	logger observability.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	buckets  map[string]*bucketEntry
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// LocalOption configures a LocalLimiter.
type LocalOption func(*LocalLimiter)

// WithLocalLogger sets the logger.
func WithLocalLogger(logger observability.Logger) LocalOption {
	return func(l *LocalLimiter) {
		l.logger = logger
	}
}

// WithKeyTTL sets how long an idle bucket is kept.
func WithKeyTTL(ttl time.Duration) LocalOption {
	return func(l *LocalLimiter) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) LocalOption {
	return func(l *LocalLimiter) {
		l.now = now
	}
}

// NewLocalLimiter creates an in-memory limiter.
func NewLocalLimiter(cfg Config, opts ...LocalOption) *LocalLimiter {
	l := &LocalLimiter{
		cfg:     cfg,
		logger:  observability.NopLogger(),
		ttl:     DefaultKeyTTL,
		now:     time.Now,
		buckets: make(map[string]*bucketEntry),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one token from the bucket of key.
func (l *LocalLimiter) Allow(_ context.Context, key string) (*Result, error) {
	now := l.now()

	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.buckets[key] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	l.mu.Unlock()

	allowed := limiter.AllowN(now, 1)
	tokens := limiter.TokensAt(now)

	res := &Result{
		Allowed:    allowed,
		Limit:      l.cfg.Burst,
		Remaining:  int(math.Max(0, math.Floor(tokens))),
		ResetAfter: l.refillTime(float64(l.cfg.Burst) - tokens),
	}
	if !allowed {
		res.RetryAfter = l.refillTime(1 - tokens)
		rejectedTotal.WithLabelValues(backendLocal).Inc()
	}
	return res, nil
}

// refillTime is how long the bucket needs to gain n tokens.
func (l *LocalLimiter) refillTime(n float64) time.Duration {
	if n <= 0 || l.cfg.RPS <= 0 {
		return 0
	}
	return time.Duration(n / float64(l.cfg.RPS) * float64(time.Second))
}

// Len returns the number of tracked buckets.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Cleanup removes buckets idle for longer than the TTL.
func (l *LocalLimiter) Cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.buckets {
		if now.Sub(entry.lastAccess) > l.ttl {
			delete(l.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("cleaned up idle rate limit buckets",
			observability.Int("removed", removed),
			observability.Int("remaining", len(l.buckets)),
		)
	}
}

// Start runs periodic cleanup until Close is called.
func (l *LocalLimiter) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	interval := l.ttl / 2
	if interval > MaxCleanupInterval {
		interval = MaxCleanupInterval
	}
	if interval < MinCleanupInterval {
		interval = MinCleanupInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Close stops the cleanup loop.
func (l *LocalLimiter) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	return nil
}
