package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// AccessLog returns a middleware that writes one log line per request.
// Server errors are logged at error level, client errors at warn.
func AccessLog(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(util.ContextWithStartTime(c.Request.Context(), start))

		c.Next()

		status := c.Writer.Status()
		fields := []observability.Field{
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.String("query", c.Request.URL.RawQuery),
			observability.Int("status", status),
			observability.Int("size", c.Writer.Size()),
			observability.Duration("duration", time.Since(start)),
			observability.String("client_ip", GetClientIP(c)),
			observability.String("user_agent", c.Request.UserAgent()),
			observability.String("request_id", GetRequestID(c)),
		}
		if route := c.GetString(RouteKey); route != "" {
			fields = append(fields, observability.String("route", route))
		}
		if service := util.ServiceFromContext(c.Request.Context()); service != "" {
			fields = append(fields, observability.String("service", service))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, observability.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("http request", fields...)
		case status >= 400:
			logger.Warn("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}
