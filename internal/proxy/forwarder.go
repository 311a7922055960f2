package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/retry"
	"github.com/vyrodovalexey/svcgw/internal/router"
	"github.com/vyrodovalexey/svcgw/internal/transform"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// DefaultMaxBodyBytes bounds request and response bodies held in memory.
const DefaultMaxBodyBytes = 10 << 20

var (
	// ErrRequestTooLarge is returned when the inbound body exceeds the limit.
	ErrRequestTooLarge = errors.New("request body too large")

	// ErrResponseTooLarge is returned when a backend body exceeds the limit.
	ErrResponseTooLarge = errors.New("backend response too large")
)

// Forwarder sends gateway traffic to backend instances.
type Forwarder struct {
	router       *router.Router
	client       *http.Client
	transformer  *transform.Transformer
	logger       observability.Logger
	backoff      retry.Config
	maxBodyBytes int64
	sleep        func(context.Context, time.Duration) error
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithHTTPClient sets the client used for backend calls, normally the
// backend connection pool client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithTransformer sets the payload transformer.
func WithTransformer(t *transform.Transformer) Option {
	return func(f *Forwarder) {
		f.transformer = t
	}
}

// WithRetryBackoff sets the wait between attempts. The number of attempts
// always comes from the service's max_retries.
func WithRetryBackoff(initial, maxBackoff time.Duration, jitter float64) Option {
	return func(f *Forwarder) {
		f.backoff.InitialBackoff = initial
		f.backoff.MaxBackoff = maxBackoff
		f.backoff.JitterFactor = jitter
	}
}

// WithMaxBodyBytes bounds bodies buffered by the forwarder.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// withSleep replaces the backoff wait in tests.
func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(f *Forwarder) {
		f.sleep = fn
	}
}

// New creates a Forwarder that resolves targets through rt.
func New(rt *router.Router, opts ...Option) *Forwarder {
	f := &Forwarder{
		router:       rt,
		client:       http.DefaultClient,
		logger:       observability.NopLogger(),
		backoff:      *retry.DefaultConfig(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transformer == nil {
		f.transformer = transform.Default()
	}
	return f
}

// Call is a backend request that is not bound to a route.
type Call struct {
	Service  string
	Method   string
	Path     string
	Query    url.Values
	Header   http.Header
	Body     []byte
	ClientIP string

	// Host and Proto describe the inbound request for X-Forwarded-Host
	// and X-Forwarded-Proto. Route is sent as X-Gateway-Route.
	Host  string
	Proto string
	Route string

	// Timeout overrides the per-attempt service timeout when positive.
	Timeout time.Duration
}

// Response is a fully buffered backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Service    string
	URL        string
}

// Forward sends r to the service of match and writes the backend response
// to w. requestPath is the path relative to the gateway prefix. Nothing
// is written when an error is returned.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, match *router.Match, requestPath string) error {
	ctx := r.Context()
	route := &match.Route.Config
	clientIP := util.ClientIPFromContext(ctx)

	body, err := f.readBody(r)
	if err != nil {
		return err
	}

	// The request transform runs before a target is resolved so a
	// transformation failure never counts against the service breaker.
	contentType := r.Header.Get("Content-Type")
	body, contentType, err = f.transformer.TransformBody(ctx, body, contentType, route.TransformRequest, route.TransformConfig)
	if err != nil {
		f.logger.Warn("request transformation failed",
			observability.String("route", route.Key()),
			observability.Error(err),
		)
		return err
	}

	target, err := f.router.Resolve(match, requestPath, clientIP)
	if err != nil {
		return err
	}

	header := f.outboundHeader(ctx, r, target, clientIP)
	applyHeaderRules(header, route.AddRequestHeaders, route.RemoveRequestHeaders)
	header.Set(HeaderGatewayRoute, route.Key())
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}

	resp, err := f.send(ctx, target, r.Method, r.URL.RawQuery, header, body, 0)
	if err != nil {
		return err
	}

	respBody, respType := resp.Body, resp.Header.Get("Content-Type")
	if resp.StatusCode < http.StatusBadRequest {
		respBody, respType = f.transformResponse(ctx, route, respBody, respType)
	}

	dst := w.Header()
	copyResponseHeaders(dst, resp.Header)
	applyHeaderRules(dst, route.AddResponseHeaders, route.RemoveResponseHeaders)
	if respType != "" {
		dst.Set("Content-Type", respType)
	}
	dst.Set("Content-Length", strconv.Itoa(len(respBody)))
	dst.Set(HeaderGatewayRoute, route.Key())
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(respBody); err != nil {
		f.logger.Debug("client went away while writing response",
			observability.String("route", route.Key()),
			observability.Error(err),
		)
	}
	return nil
}

// transformResponse applies the route's response transform. On failure
// the raw backend body is returned unchanged.
func (f *Forwarder) transformResponse(
	ctx context.Context,
	route *config.Route,
	body []byte,
	contentType string,
) ([]byte, string) {
	out, ct, err := f.transformer.TransformBody(ctx, body, contentType, route.TransformResponse, route.TransformConfig)
	if err != nil {
		responseTransformFallbacks.WithLabelValues(route.Key()).Inc()
		f.logger.Warn("response transformation failed, returning raw body",
			observability.String("route", route.Key()),
			observability.Error(err),
		)
		return body, contentType
	}
	return out, ct
}

// Call sends c to an instance of c.Service and returns the buffered
// response. A 4xx response is returned without error. The caller decides
// what the status means.
func (f *Forwarder) Call(ctx context.Context, c *Call) (*Response, error) {
	path, rawQuery, _ := strings.Cut(c.Path, "?")
	if len(c.Query) > 0 {
		q, err := url.ParseQuery(rawQuery)
		if err != nil {
			q = url.Values{}
		}
		for k, vs := range c.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		rawQuery = q.Encode()
	}

	target, err := f.router.ResolveService(c.Service, path, c.ClientIP)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(c.Header)+2)
	for k, vs := range c.Header {
		header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	removeHopHeaders(header)
	header.Del("Content-Length")
	header.Del("Host")
	setForwardedHeaders(header, c.Header, c.ClientIP, c.Proto, c.Host)
	if c.Route != "" {
		header.Set(HeaderGatewayRoute, c.Route)
	}
	if id := observability.RequestIDFromContext(ctx); id != "" {
		header.Set(HeaderRequestID, id)
	}
	f.setServiceAuth(header, target)

	method := c.Method
	if method == "" {
		method = http.MethodGet
	}
	return f.send(ctx, target, method, rawQuery, header, c.Body, c.Timeout)
}

func (f *Forwarder) outboundHeader(ctx context.Context, r *http.Request, target *router.Target, clientIP string) http.Header {
	h := r.Header.Clone()
	removeHopHeaders(h)
	h.Del("Content-Length")
	if clientIP == "" {
		clientIP = remoteHost(r)
	}
	setForwardedHeaders(h, r.Header, clientIP, requestProto(r), r.Host)
	if id := observability.RequestIDFromContext(ctx); id != "" {
		h.Set(HeaderRequestID, id)
	}
	f.setServiceAuth(h, target)
	return h
}

func (f *Forwarder) setServiceAuth(h http.Header, target *router.Target) {
	if auth := target.Service.Config().Auth; auth.Required && auth.APIKey != "" {
		h.Set(HeaderAPIKey, auth.APIKey)
	}
}

func (f *Forwarder) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(data)) > f.maxBodyBytes {
		return nil, ErrRequestTooLarge
	}
	return data, nil
}

// send runs the attempts against target and reports the outcome to the
// service breaker. Retries reuse the resolved target.
func (f *Forwarder) send(
	ctx context.Context,
	target *router.Target,
	method, rawQuery string,
	header http.Header,
	body []byte,
	timeout time.Duration,
) (*Response, error) {
	svcCfg := target.Service.Config()
	name := svcCfg.Name
	endpoint := target.URL
	if rawQuery != "" {
		endpoint += "?" + rawQuery
	}
	if timeout <= 0 {
		timeout = svcCfg.EffectiveTimeout()
	}

	ctx, span := observability.StartSpan(ctx, "backend "+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("svcgw.service", name),
			attribute.String("http.method", method),
			attribute.String("http.url", endpoint),
		),
	)
	defer span.End()

	target.Instance.Acquire()
	defer target.Instance.Release()

	backoff := f.backoff
	backoff.MaxAttempts = svcCfg.EffectiveMaxRetries()

	start := time.Now()
	var resp *Response
	err := retry.Do(ctx, &backoff, func(ctx context.Context, _ int) error {
		resp = nil
		r, err := f.attempt(ctx, method, endpoint, header, body, timeout)
		if err != nil {
			return err
		}
		resp = r
		if retry.IsRetryableStatus(r.StatusCode) {
			return util.NewServerError(r.StatusCode)
		}
		return nil
	}, &retry.Options{
		Operation: name,
		Sleep:     f.sleep,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			f.logger.Debug("retrying backend call",
				observability.String("service", name),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", wait),
				observability.Error(err),
			)
		},
	})
	elapsed := time.Since(start).Seconds()

	// A caller that went away releases the admission. A call that ran out
	// of its own deadline counts against the service.
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.SetStatus(codes.Error, ctxErr.Error())
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			f.router.RecordOutcome(target, 0, ctxErr)
			recordError(name, "timeout")
			f.logger.Warn("backend call timed out",
				observability.String("service", name),
				observability.String("url", target.URL),
			)
			return nil, fmt.Errorf("%w: call to %s: %w", util.ErrTimeout, name, ctxErr)
		}
		f.router.Release(target)
		recordError(name, "canceled")
		return nil, ctxErr
	}

	switch {
	case err == nil, resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		f.router.RecordOutcome(target, resp.StatusCode, nil)
		recordCall(name, resp.StatusCode, elapsed)
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		resp.Service = name
		resp.URL = target.URL
		return resp, nil

	case resp != nil:
		f.router.RecordOutcome(target, resp.StatusCode, nil)
		recordCall(name, resp.StatusCode, elapsed)
		recordError(name, "server_error")
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Error, "backend server error")
		f.logger.Warn("backend call failed",
			observability.String("service", name),
			observability.Int("status", resp.StatusCode),
		)
		return nil, util.NewServiceUnavailableError(name, fmt.Sprintf("backend answered %d", resp.StatusCode), err)

	default:
		f.router.RecordOutcome(target, 0, err)
		recordError(name, errorType(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.logger.Warn("backend call failed",
			observability.String("service", name),
			observability.String("url", target.URL),
			observability.Error(err),
		)
		return nil, util.NewServiceUnavailableError(name, "backend unreachable", err)
	}
}

func (f *Forwarder) attempt(
	ctx context.Context,
	method, endpoint string,
	header http.Header,
	body []byte,
	timeout time.Duration,
) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header = header.Clone()
	observability.InjectTraceContext(ctx, req)

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	if int64(len(data)) > f.maxBodyBytes {
		return nil, ErrResponseTooLarge
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrResponseTooLarge):
		return "too_large"
	case retry.IsNetworkError(err):
		return "network"
	default:
		return "other"
	}
}
