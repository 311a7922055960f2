// Package middleware provides the gin middleware chain in front of the
// gateway handler: panic recovery, request ids, tracing, client address
// resolution, access logging, request metrics, rate limiting, the
// gateway-wide backstop breaker and API key authentication.
package middleware
