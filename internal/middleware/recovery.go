package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// Recovery returns a middleware that turns panics into a generic 500. The
// panic value is logged, never sent to the client.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			logger.Error("panic recovered",
				observability.String("path", c.Request.URL.Path),
				observability.String("method", c.Request.Method),
				observability.String("request_id", c.GetString(RequestIDKey)),
				observability.Any("error", rec),
				observability.String("stack", string(debug.Stack())),
			)
			GetMiddlewareMetrics().panicsRecovered.Inc()

			if c.Writer.Written() {
				c.Abort()
				return
			}
			status, body := util.ErrorResponse(fmt.Errorf("panic: %v", rec))
			c.AbortWithStatusJSON(status, body)
		}()

		c.Next()
	}
}
