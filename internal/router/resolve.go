package router

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/svcgw/internal/backend"
	"github.com/vyrodovalexey/svcgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// Target is a resolved backend call: the service, the selected instance
// and the full URL without query string.
type Target struct {
	Service  *backend.Service
	Instance *backend.Instance
	URL      string

	breaker *circuitbreaker.CircuitBreaker
}

// BuildServiceURL computes the backend URL of a request matched by route.
// The base is the instance URL, or the service base URL when inst is nil.
// A service path template receives the placeholder values of
// requestPath; otherwise requestPath is used as is, minus the literal
// route prefix when StripPrefix is set. AppendSlash adds a trailing slash.
func (r *Router) BuildServiceURL(route *CompiledRoute, requestPath string, inst *backend.Instance) (string, error) {
	var base string
	if inst != nil {
		base = inst.URL()
	} else {
		svc, ok := r.registry.Get(route.Config.Service)
		if !ok {
			return "", util.NewServiceUnavailableError(route.Config.Service, "service not registered", nil)
		}
		base = svc.Config().BaseURL
	}

	path, err := servicePath(route, requestPath)
	if err != nil {
		return "", err
	}
	return joinURL(base, path), nil
}

func servicePath(route *CompiledRoute, requestPath string) (string, error) {
	cfg := &route.Config
	var path string
	switch {
	case cfg.ServicePath != "":
		params, ok := route.Params(requestPath)
		if !ok {
			return "", util.NewRouteNotFoundError(cfg.EffectiveMethod(), requestPath)
		}
		expanded, err := Expand(cfg.ServicePath, params)
		if err != nil {
			return "", util.NewConfigErrorWithCause("routes["+cfg.Key()+"].servicePath", "cannot expand", err)
		}
		path = expanded
	case cfg.StripPrefix:
		path = strings.TrimPrefix(requestPath, cfg.LiteralPrefix())
	default:
		path = requestPath
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if cfg.AppendSlash && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path, nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}

// Resolve selects an instance for a matched route and builds its URL.
// The service breaker must admit the call, otherwise a CircuitOpenError
// is returned. Callers report the outcome with RecordOutcome.
func (r *Router) Resolve(match *Match, requestPath, clientIP string) (*Target, error) {
	t, err := r.acquire(match.Route.Config.Service, clientIP)
	if err != nil {
		return nil, err
	}
	path, err := servicePath(match.Route, requestPath)
	if err != nil {
		r.Release(t)
		return nil, err
	}
	t.URL = joinURL(t.Instance.URL(), path)
	return t, nil
}

// ResolveService selects an instance of service for a call that is not
// bound to a route, such as an aggregation call.
func (r *Router) ResolveService(service, path, clientIP string) (*Target, error) {
	t, err := r.acquire(service, clientIP)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	t.URL = joinURL(t.Instance.URL(), path)
	return t, nil
}

func (r *Router) acquire(name, clientIP string) (*Target, error) {
	svc, ok := r.registry.Get(name)
	if !ok {
		return nil, util.NewServiceUnavailableError(name, "service not registered", nil)
	}
	if !svc.IsActive() {
		return nil, util.NewServiceUnavailableError(name, "service inactive", nil)
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg := svc.Config().CircuitBreaker; cfg.Enabled {
		breaker = r.breakers.GetOrCreate(name, circuitbreaker.ConfigFromService(cfg))
		if err := breaker.Allow(); err != nil {
			rejections.WithLabelValues(name).Inc()
			return nil, err
		}
	}

	inst, err := r.lb.Select(svc, clientIP)
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure(err)
		}
		return nil, err
	}
	return &Target{Service: svc, Instance: inst, breaker: breaker}, nil
}

// Release undoes the breaker admission of a call that was never sent.
func (r *Router) Release(t *Target) {
	if t != nil && t.breaker != nil {
		t.breaker.Abandon()
	}
}

// RecordOutcome reports the result of a backend call to the service
// breaker. A transport error or a 5xx status is a failure. A call
// abandoned because the caller went away is not counted.
func (r *Router) RecordOutcome(t *Target, status int, err error) {
	if t == nil || t.breaker == nil {
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		t.breaker.Abandon()
	case err != nil:
		t.breaker.RecordFailure(err)
	case status >= http.StatusInternalServerError:
		t.breaker.RecordFailure(util.NewServerError(status))
	default:
		t.breaker.RecordSuccess()
	}
}
