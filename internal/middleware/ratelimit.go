package middleware

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/ratelimit"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Limiter ratelimit.Limiter

	// PerClient keys buckets by client address instead of one global bucket.
	PerClient bool

	Logger observability.Logger
}

// RateLimit rejects requests over the limit with 429 and Retry-After.
// Limiter errors let the request through.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	m := GetMiddlewareMetrics()

	return func(c *gin.Context) {
		clientIP := GetClientIP(c)
		res, err := cfg.Limiter.Allow(c.Request.Context(), ratelimit.KeyFor(cfg.PerClient, clientIP))
		if err != nil {
			m.rateLimitErrors.Inc()
			logger.Warn("rate limiter error, allowing request",
				observability.String("client_ip", clientIP),
				observability.Error(err),
			)
			c.Next()
			return
		}

		c.Header(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
		c.Header(HeaderRateLimitReset, strconv.Itoa(int(math.Ceil(res.ResetAfter.Seconds()))))

		if !res.Allowed {
			m.rateLimitRejected.Inc()
			logger.Debug("rate limit exceeded",
				observability.String("client_ip", clientIP),
				observability.String("path", c.Request.URL.Path),
			)
			util.WriteError(c.Writer, util.NewRateLimitError(res.Limit, res.RetryAfter))
			c.Abort()
			return
		}

		m.rateLimitAllowed.Inc()
		c.Next()
	}
}
