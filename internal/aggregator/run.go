package aggregator

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/proxy"
	"github.com/vyrodovalexey/svcgw/internal/transform"
)

type outcomeState int

const (
	outcomeOK outcomeState = iota
	outcomeFailed
	outcomeSkipped
)

// Skip reasons.
const (
	reasonConditionNotMet = "condition not met"
	reasonStopped         = "stopped after failed call"
)

// outcome is the result of one call.
type outcome struct {
	state  outcomeState
	data   any
	status int
	err    error
	reason string
}

// entry is the value reported to the client for the call.
func (o *outcome) entry() any {
	switch o.state {
	case outcomeOK:
		return o.data
	case outcomeSkipped:
		return map[string]any{"skipped": true, "reason": o.reason}
	default:
		kind, msg := describe(o.err)
		e := map[string]any{"error": kind, "message": msg}
		if o.status > 0 {
			e["status"] = o.status
		}
		return e
	}
}

func failed(err error) *outcome {
	return &outcome{state: outcomeFailed, err: err}
}

// run is the state of one aggregation execution.
type run struct {
	agg    *Aggregator
	cfg    *config.Aggregation
	req    *Request
	params map[string]string

	mu       sync.Mutex
	outcomes map[string]*outcome
}

func newRun(a *Aggregator, cfg *config.Aggregation, req *Request) *run {
	return &run{
		agg:      a,
		cfg:      cfg,
		req:      req,
		params:   req.params(),
		outcomes: make(map[string]*outcome, len(cfg.Calls)),
	}
}

func (r *run) set(name string, o *outcome) {
	r.mu.Lock()
	r.outcomes[name] = o
	r.mu.Unlock()

	result := "success"
	switch o.state {
	case outcomeSkipped:
		result = "skipped"
	case outcomeFailed:
		result = "error"
		if _, ok := o.err.(*dependencyError); ok {
			result = "dependency_failed"
		}
	}
	recordCall(r.cfg.Name, result)
}

func (r *run) get(name string) (*outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[name]
	return o, ok
}

// successes returns the data of every successful call.
func (r *run) successes() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.outcomes))
	for name, o := range r.outcomes {
		if o.state == outcomeOK {
			out[name] = o.data
		}
	}
	return out
}

// entries returns the client view of every outcome.
func (r *run) entries() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.outcomes))
	for name, o := range r.outcomes {
		out[name] = o.entry()
	}
	return out
}

func (r *run) failures() int {
	return len(r.names(outcomeFailed))
}

func (r *run) names(state outcomeState) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, o := range r.outcomes {
		if o.state == state {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// parallel runs every call concurrently on the bounded pool. A failing
// call never cancels the others.
func (r *run) parallel(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(r.agg.workers)
	for i := range r.cfg.Calls {
		call := &r.cfg.Calls[i]
		g.Go(func() error {
			r.set(call.Name, r.invoke(ctx, call))
			return nil
		})
	}
	_ = g.Wait()
}

// sequential runs calls in order. With conditional set, a call whose
// condition does not hold is skipped.
func (r *run) sequential(ctx context.Context, conditional bool) {
	logger := r.agg.logger.WithContext(ctx)
	for i := range r.cfg.Calls {
		call := &r.cfg.Calls[i]

		if missing := r.unmetDependencies(call); len(missing) > 0 {
			r.set(call.Name, failed(&dependencyError{call: call.Name, dependencies: missing}))
			continue
		}

		if conditional && call.Condition != nil {
			ok, err := r.evaluate(ctx, call.Condition)
			if err != nil {
				r.set(call.Name, failed(err))
				if call.StopsOnFailure() {
					r.skipRemaining(i + 1)
					return
				}
				continue
			}
			if !ok {
				r.set(call.Name, &outcome{state: outcomeSkipped, reason: reasonConditionNotMet})
				continue
			}
		}

		o := r.invoke(ctx, call)
		r.set(call.Name, o)
		if o.state == outcomeFailed && call.StopsOnFailure() {
			logger.Debug("aggregation stopped after failed call",
				observability.String("aggregation", r.cfg.Name),
				observability.String("call", call.Name),
			)
			r.skipRemaining(i + 1)
			return
		}
	}
}

// skipRemaining marks the calls from index from on as not run.
func (r *run) skipRemaining(from int) {
	for i := from; i < len(r.cfg.Calls); i++ {
		r.set(r.cfg.Calls[i].Name, &outcome{state: outcomeSkipped, reason: reasonStopped})
	}
}

// unmetDependencies lists the dependencies of call without a successful
// result.
func (r *run) unmetDependencies(call *config.AggregationCall) []string {
	var missing []string
	for _, dep := range call.DependsOn {
		if o, ok := r.get(dep); !ok || o.state != outcomeOK {
			missing = append(missing, dep)
		}
	}
	return missing
}

// scatter sends the scatter request to every listed service
// concurrently. Outcomes are keyed by service name.
func (r *run) scatter(ctx context.Context) error {
	sc := r.cfg.Scatter
	if sc == nil || len(sc.Services) == 0 {
		return newConfigError(r.cfg.Name, "scatter_gather needs at least one scatter service")
	}
	method := strings.ToUpper(sc.Method)
	if method == "" {
		method = http.MethodGet
	}
	path, pathErr := r.resolvePath(sc.Path)

	var g errgroup.Group
	g.SetLimit(r.agg.workers)
	seen := make(map[string]bool, len(sc.Services))
	for _, svc := range sc.Services {
		if seen[svc] {
			continue
		}
		seen[svc] = true
		g.Go(func() error {
			if pathErr != nil {
				r.set(svc, failed(pathErr))
				return nil
			}
			r.set(svc, r.send(ctx, svc, method, path, nil, r.agg.callTimeout))
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (r *run) invoke(ctx context.Context, call *config.AggregationCall) *outcome {
	path, err := r.resolvePath(call.Path)
	if err != nil {
		return failed(err)
	}
	return r.send(ctx, call.Service, call.EffectiveMethod(), path, call.Headers,
		call.Timeout.OrDefault(r.agg.callTimeout))
}

// send performs one backend call. A response with status 400 or above
// is a failure.
func (r *run) send(
	ctx context.Context,
	service, method, path string,
	headers map[string]string,
	timeout time.Duration,
) *outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := r.req.Header.Clone()
	if header == nil {
		header = make(http.Header, len(headers))
	}
	for k, v := range headers {
		header.Set(k, v)
	}
	c := &proxy.Call{
		Service:  service,
		Method:   method,
		Path:     path,
		Query:    r.req.Query,
		Header:   header,
		ClientIP: r.req.ClientIP,
		Host:     r.req.Host,
		Proto:    r.req.Proto,
		Route:    r.req.Route,
	}
	if carriesBody(method) {
		c.Body = r.req.Body
	}

	resp, err := r.agg.caller.Call(ctx, c)
	if err != nil {
		return failed(err)
	}
	data := transform.DecodeBody(resp.Body, resp.Header.Get("Content-Type"))
	if resp.StatusCode >= http.StatusBadRequest {
		return &outcome{
			state:  outcomeFailed,
			status: resp.StatusCode,
			err:    &statusError{service: service, status: resp.StatusCode},
		}
	}
	return &outcome{state: outcomeOK, data: data, status: resp.StatusCode}
}
