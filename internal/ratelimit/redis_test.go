package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/svcgw/internal/circuitbreaker"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiter_Allow(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	clock := newFakeClock()
	l := NewRedisLimiter(client, Config{RPS: 1, Burst: 2}, WithPrefix("test:"))
	l.now = clock.Now
	defer l.Close()
	ctx := context.Background()

	first, err := l.Allow(ctx, "client:a")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 2, first.Limit)
	assert.Equal(t, 1, first.Remaining)
	assert.True(t, mr.Exists("test:client:a"))

	second, err := l.Allow(ctx, "client:a")
	require.NoError(t, err)
	assert.True(t, second.Allowed)

	third, err := l.Allow(ctx, "client:a")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Greater(t, third.RetryAfter, time.Duration(0))

	clock.Advance(time.Second)
	refilled, err := l.Allow(ctx, "client:a")
	require.NoError(t, err)
	assert.True(t, refilled.Allowed)
}

func TestRedisLimiter_SharedAcrossInstances(t *testing.T) {
	t.Parallel()

	_, client := newTestRedis(t)
	clock := newFakeClock()
	cfg := Config{RPS: 1, Burst: 1}

	a := NewRedisLimiter(client, cfg)
	b := NewRedisLimiter(client, cfg)
	a.now, b.now = clock.Now, clock.Now
	defer a.Close()
	defer b.Close()

	res, err := a.Allow(context.Background(), GlobalKey)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = b.Allow(context.Background(), GlobalKey)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRedisLimiter_Fallback(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	fallback := NewLocalLimiter(Config{RPS: 1, Burst: 1})
	l := NewRedisLimiter(client, Config{RPS: 1, Burst: 1}, WithFallback(fallback))
	defer l.Close()

	mr.Close()

	res, err := l.Allow(context.Background(), GlobalKey)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(context.Background(), GlobalKey)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRedisLimiter_NoFallback(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, Config{RPS: 1, Burst: 1})
	defer l.Close()

	mr.Close()

	_, err := l.Allow(context.Background(), GlobalKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

func TestRedisLimiter_BreakerOpensOnFailures(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	cb := circuitbreaker.New("test-redis", circuitbreaker.Config{Threshold: 2, RecoveryTimeout: time.Hour})
	l := NewRedisLimiter(client, Config{RPS: 1, Burst: 1}, WithBreaker(cb))
	defer l.Close()

	mr.Close()
	for range 2 {
		_, _ = l.Allow(context.Background(), GlobalKey)
	}
	assert.Equal(t, circuitbreaker.StateOpen, l.BreakerState())
}

func TestRedisLimiter_HealthCheck(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, Config{RPS: 1, Burst: 1})
	defer l.Close()

	l.checkHealth()
	assert.True(t, l.IsHealthy())

	mr.Close()
	l.checkHealth()
	assert.False(t, l.IsHealthy())
}

func TestDialRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	l, err := DialRedis(context.Background(), mr.Addr(), 0, Config{RPS: 1, Burst: 1})
	require.NoError(t, err)
	require.NoError(t, l.Ping(context.Background()))
	require.NoError(t, l.Close())

	mr.Close()
	_, err = DialRedis(context.Background(), mr.Addr(), 0, Config{RPS: 1, Burst: 1})
	assert.Error(t, err)
}

func TestParseScriptResult(t *testing.T) {
	t.Parallel()

	res, err := parseScriptResult([]any{int64(0), int64(0), int64(4000)}, 4)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 4*time.Second, res.ResetAfter)
	assert.Equal(t, time.Second, res.RetryAfter)

	_, err = parseScriptResult("bad", 1)
	assert.Error(t, err)
}

func TestRedisLimiter_HealthLoop(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, Config{RPS: 1, Burst: 1}, WithHealthCheckInterval(10*time.Millisecond))
	defer l.Close()
	l.Start()

	require.True(t, l.IsHealthy())
	mr.Close()
	assert.Eventually(t, func() bool { return !l.IsHealthy() }, time.Second, 10*time.Millisecond)
}
