package util

import (
	"context"
	"time"
)

type ctxKey string

const (
	ctxKeyStartTime     ctxKey = "start_time"
	ctxKeyRoute         ctxKey = "route"
	ctxKeyService       ctxKey = "service"
	ctxKeyPathParams    ctxKey = "path_params"
	ctxKeyClientIP      ctxKey = "client_ip"
	ctxKeyAuthenticated ctxKey = "authenticated"
)

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the start time from context.
func StartTimeFromContext(ctx context.Context) time.Time {
	v, _ := ctx.Value(ctxKeyStartTime).(time.Time)
	return v
}

// ElapsedTime returns the time since the start time stored in ctx, or zero.
func ElapsedTime(ctx context.Context) time.Duration {
	start := StartTimeFromContext(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// ContextWithRoute records the matched route id.
func ContextWithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, ctxKeyRoute, route)
}

// RouteFromContext returns the matched route id.
func RouteFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRoute).(string)
	return v
}

// ContextWithService records the target service name.
func ContextWithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, ctxKeyService, service)
}

// ServiceFromContext returns the target service name.
func ServiceFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyService).(string)
	return v
}

// ContextWithPathParams adds path parameters to the context.
func ContextWithPathParams(ctx context.Context, params map[string]string) context.Context {
	return context.WithValue(ctx, ctxKeyPathParams, params)
}

// PathParamsFromContext extracts path parameters from context.
func PathParamsFromContext(ctx context.Context) map[string]string {
	v, _ := ctx.Value(ctxKeyPathParams).(map[string]string)
	return v
}

// ContextWithClientIP stores the resolved client address.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ClientIPFromContext returns the resolved client address.
func ClientIPFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyClientIP).(string)
	return v
}

// ContextWithAuthenticated marks the caller as authenticated.
func ContextWithAuthenticated(ctx context.Context, ok bool) context.Context {
	return context.WithValue(ctx, ctxKeyAuthenticated, ok)
}

// IsAuthenticated reports whether the caller was authenticated upstream.
func IsAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyAuthenticated).(bool)
	return v
}
