// Package aggregator combines several backend calls into one gateway
// response.
//
// An aggregation runs its calls in one of four modes: parallel,
// sequential, conditional or scatter_gather. Every call goes through the
// same router and forwarder as a proxied request, so load balancing,
// circuit breaking and retries apply unchanged. The inbound request
// context bounds the whole run: when the client goes away or the
// aggregation timeout expires, in-flight backend calls are cancelled.
package aggregator

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/proxy"
	"github.com/vyrodovalexey/svcgw/internal/transform"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// Caller sends a single backend call. *proxy.Forwarder implements it.
type Caller interface {
	Call(ctx context.Context, c *proxy.Call) (*proxy.Response, error)
}

// Aggregator executes aggregations.
type Aggregator struct {
	caller      Caller
	evaluator   *transform.Evaluator
	logger      observability.Logger
	workers     int
	callTimeout time.Duration
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithEvaluator sets the expression evaluator used by call conditions.
func WithEvaluator(e *transform.Evaluator) Option {
	return func(a *Aggregator) {
		a.evaluator = e
	}
}

// WithWorkers bounds the number of concurrent backend calls of one
// parallel or scatter_gather run.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithCallTimeout sets the timeout of calls that do not configure one.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.callTimeout = d
		}
	}
}

// New creates an Aggregator sending calls through caller.
func New(caller Caller, opts ...Option) *Aggregator {
	a := &Aggregator{
		caller:      caller,
		logger:      observability.NopLogger(),
		workers:     config.DefaultWorkers,
		callTimeout: config.DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.evaluator == nil {
		a.evaluator = transform.Default().Evaluator()
	}
	return a
}

// Result is the response of an aggregation.
type Result struct {
	StatusCode int
	Body       any

	// Failed and Skipped list call names (service names for
	// scatter_gather), sorted.
	Failed  []string
	Skipped []string
}

// Execute runs agg for req. The returned error is reserved for
// aggregations that cannot run at all; failing calls are reported in the
// result body and status.
func (a *Aggregator) Execute(ctx context.Context, agg *config.Aggregation, req *Request) (*Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, agg.EffectiveTimeout())
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "aggregation "+agg.Name,
		trace.WithAttributes(
			attribute.String("svcgw.aggregation", agg.Name),
			attribute.String("svcgw.aggregation.type", agg.Type),
		),
	)
	defer span.End()

	if req == nil {
		req = &Request{}
	}
	run := newRun(a, agg, req)

	var err error
	switch agg.Type {
	case config.AggregationParallel:
		run.parallel(ctx)
	case config.AggregationSequential:
		run.sequential(ctx, false)
	case config.AggregationConditional:
		run.sequential(ctx, true)
	case config.AggregationScatterGather:
		err = run.scatter(ctx)
	default:
		err = util.NewAggregationError(agg.Name, "unknown aggregation type "+agg.Type, nil)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		recordAggregation(agg.Name, http.StatusInternalServerError, time.Since(start))
		return nil, err
	}

	res := &Result{
		StatusCode: statusFor(agg, run.failures()),
		Failed:     run.names(outcomeFailed),
		Skipped:    run.names(outcomeSkipped),
	}
	if agg.Type == config.AggregationScatterGather {
		res.Body = run.gather()
	} else {
		res.Body = run.assemble()
	}

	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))
	if res.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, "aggregation failed")
	}
	recordAggregation(agg.Name, res.StatusCode, time.Since(start))

	a.logger.WithContext(ctx).Debug("aggregation finished",
		observability.String("aggregation", agg.Name),
		observability.Int("status", res.StatusCode),
		observability.Strings("failed", res.Failed),
		observability.Strings("skipped", res.Skipped),
		observability.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// statusFor returns 200 when nothing failed, 500 when a failure is not
// tolerated and 207 otherwise.
func statusFor(agg *config.Aggregation, failures int) int {
	switch {
	case failures == 0:
		return http.StatusOK
	case agg.FailFast || !agg.AllowsPartial():
		return http.StatusInternalServerError
	default:
		return http.StatusMultiStatus
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
