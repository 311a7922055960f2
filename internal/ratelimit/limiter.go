// Package ratelimit limits inbound gateway traffic. A local limiter keeps
// token buckets in process memory; a Redis limiter shares the buckets
// across gateway replicas and falls back to a local limiter while Redis is
// unreachable.
package ratelimit

import (
	"context"
	"time"

	"github.com/vyrodovalexey/svcgw/internal/config"
)

// GlobalKey is the bucket key used when limits are not per client.
const GlobalKey = "global"

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow consumes one token for key.
	Allow(ctx context.Context, key string) (*Result, error)

	// Close releases background resources.
	Close() error
}

// Config holds the token bucket parameters.
type Config struct {
	// RPS is the steady refill rate in tokens per second.
	RPS int

	// Burst is the bucket capacity.
	Burst int
}

// ConfigFromGateway converts the rateLimit section.
func ConfigFromGateway(c config.RateLimitConfig) Config {
	cfg := Config{RPS: c.RPS, Burst: c.Burst}
	if cfg.RPS <= 0 {
		cfg.RPS = config.DefaultRateLimitRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RPS
	}
	return cfg
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the bucket capacity.
	Limit int

	// Remaining is the number of whole tokens left.
	Remaining int

	// ResetAfter is the duration until the bucket is full again.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when not allowed).
	RetryAfter time.Duration
}

// KeyFor returns the bucket key of a client.
func KeyFor(perClient bool, clientIP string) string {
	if !perClient || clientIP == "" {
		return GlobalKey
	}
	return "client:" + clientIP
}
