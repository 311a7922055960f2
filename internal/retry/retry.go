// Package retry runs backend calls again after retryable failures, waiting
// an exponentially growing, jittered interval between attempts.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default total number of attempts.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the wait before the second attempt.
	DefaultInitialBackoff = 100 * time.Millisecond

	// DefaultMaxBackoff caps any single wait.
	DefaultMaxBackoff = 5 * time.Second

	// DefaultJitterFactor adds up to 25% on top of each wait.
	DefaultJitterFactor = 0.25

	// MaxJitterFactor is the maximum allowed jitter factor.
	MaxJitterFactor = 1.0
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// JitterFactor (0.0 to 1.0) adds randomness to each wait.
	JitterFactor float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

// Attempts returns the effective number of attempts.
func (c *Config) Attempts() int {
	if c == nil {
		return DefaultMaxAttempts
	}
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// GetInitialBackoff returns the effective initial backoff.
func (c *Config) GetInitialBackoff() time.Duration {
	if c == nil || c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

// GetMaxBackoff returns the effective max backoff.
func (c *Config) GetMaxBackoff() time.Duration {
	if c == nil || c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return c.MaxBackoff
}

// GetJitterFactor returns the effective jitter factor.
func (c *Config) GetJitterFactor() float64 {
	if c == nil || c.JitterFactor < 0 {
		return DefaultJitterFactor
	}
	if c.JitterFactor > MaxJitterFactor {
		return MaxJitterFactor
	}
	return c.JitterFactor
}

// Func performs one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each wait.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// Operation labels metrics, usually the service name.
	Operation string

	// ShouldRetry determines if an error should trigger a retry.
	// If nil, IsRetryable is used.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each wait.
	OnRetry OnRetryFunc

	// Sleep replaces the real wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up or ctx is done. It returns the last error.
func Do(ctx context.Context, cfg *Config, fn Func, opts *Options) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if opts == nil {
		opts = &Options{}
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempts := cfg.Attempts()
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		recordAttempt(opts.Operation, attempt)
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			recordResult(opts.Operation, true, attempt, time.Since(start))
			return nil
		}
		if !shouldRetry(lastErr) || attempt == attempts {
			break
		}

		backoff := CalculateBackoff(attempt-1, cfg.GetInitialBackoff(), cfg.GetMaxBackoff(), cfg.GetJitterFactor())
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr, backoff)
		}
		recordBackoff(opts.Operation, backoff)
		if err := sleep(ctx, backoff); err != nil {
			break
		}
	}

	recordResult(opts.Operation, false, attempts, time.Since(start))
	return lastErr
}

// CalculateBackoff returns the wait after the given zero-based retry:
// initial * 2^retry plus jitter, capped at maxBackoff.
func CalculateBackoff(retry int, initialBackoff, maxBackoff time.Duration, jitterFactor float64) time.Duration {
	if retry < 0 {
		retry = 0
	}
	backoff := float64(initialBackoff) * math.Pow(2, float64(retry))

	//nolint:gosec // jitter for retry timing is not security-sensitive
	backoff += backoff * jitterFactor * rand.Float64()

	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func attemptLabel(attempt int) string {
	return strconv.Itoa(attempt)
}
