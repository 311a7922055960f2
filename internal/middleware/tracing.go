package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// Tracing starts a server span for every request and continues an
// inbound trace when the caller sent one.
func Tracing(tracer *observability.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.StartServerSpan(c.Request, c.Request.Method+" "+c.Request.URL.Path)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		ctx = c.Request.Context()
		if route := util.RouteFromContext(ctx); route != "" {
			span.SetAttributes(attribute.String("http.route", route))
		}
		if service := util.ServiceFromContext(ctx); service != "" {
			span.SetAttributes(attribute.String("gateway.service", service))
		}
		observability.EndServerSpan(span, c.Writer.Status())
	}
}
