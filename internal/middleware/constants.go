package middleware

// HTTP header constants.
const (
	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXForwardedFor is the X-Forwarded-For header name.
	HeaderXForwardedFor = "X-Forwarded-For"

	// HeaderAPIKey carries the caller's API key.
	HeaderAPIKey = "X-API-Key"

	// HeaderAuthorization is the Authorization header name.
	HeaderAuthorization = "Authorization"

	// Rate limit headers.
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// Keys of values stored on the gin context.
const (
	RequestIDKey     = "requestID"
	ClientIPKey      = "clientIP"
	AuthenticatedKey = "authenticated"

	// RouteKey is set by the gateway handler to the matched route or
	// aggregation id.
	RouteKey = "route"
)

// unmatchedRoute labels requests that matched no route.
const unmatchedRoute = "unmatched"

// maxRequestIDLength bounds inbound request ids copied to logs and headers.
const maxRequestIDLength = 128
