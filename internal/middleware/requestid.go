package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/svcgw/internal/observability"
)

// RequestID returns a middleware that assigns every request an id. An
// inbound X-Request-ID is kept unless it is oversized.
func RequestID() gin.HandlerFunc {
	return RequestIDWithGenerator(func() string { return uuid.New().String() })
}

// RequestIDWithGenerator is RequestID with a custom id generator.
func RequestIDWithGenerator(generate func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = generate()
		}

		c.Set(RequestIDKey, id)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), id))
		c.Header(HeaderXRequestID, id)

		c.Next()
	}
}

// GetRequestID returns the request id stored on c.
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
