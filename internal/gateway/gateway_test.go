package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/svcgw/internal/aggregator"
	"github.com/vyrodovalexey/svcgw/internal/backend"
	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/health"
	"github.com/vyrodovalexey/svcgw/internal/proxy"
	"github.com/vyrodovalexey/svcgw/internal/ratelimit"
	"github.com/vyrodovalexey/svcgw/internal/repository"
	"github.com/vyrodovalexey/svcgw/internal/router"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	gw      *Gateway
	repo    *repository.Memory
	backend *httptest.Server
	hits    atomic.Int32
}

// newFixture builds a gateway over a single backend that echoes the path
// it received as JSON, or answers 500 on /fail.
func newFixture(t *testing.T, mutate func(cfg *config.GatewayConfig), opts ...Option) *fixture {
	t.Helper()

	fx := &fixture{}
	fx.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.hits.Add(1)
		if strings.HasSuffix(r.URL.Path, "/fail") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"path": r.URL.Path, "method": r.Method})
	}))
	t.Cleanup(fx.backend.Close)

	cfg := config.DefaultConfig()
	cfg.Services = []config.Service{{Name: "users", BaseURL: fx.backend.URL, MaxRetries: config.IntPtr(1)}}
	cfg.Routes = []config.Route{
		{ID: "get-user", PathPattern: "/users/{id}", Method: "GET", Service: "users"},
		{ID: "secure", PathPattern: "/secure/{id}", Method: "GET", Service: "users", AuthRequired: true},
		{ID: "fail", PathPattern: "/boom/fail", Method: "*", Service: "users"},
		{ID: "upload", PathPattern: "/upload", Method: "POST", Service: "users"},
	}
	cfg.Aggregations = []config.Aggregation{{
		Name:        "profile",
		Type:        config.AggregationParallel,
		RequestPath: "/profile/{id}",
		Calls: []config.AggregationCall{
			{Name: "user", Service: "users", Path: "/users/{id}"},
			{Name: "orders", Service: "users", Path: "/orders/{id}"},
		},
	}}
	cfg.Auth.APIKeys = []string{"secret"}
	if mutate != nil {
		mutate(cfg)
	}

	fx.repo = repository.NewMemoryFromConfig(cfg)
	rt, err := router.New(fx.repo, backend.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, rt.Reload(context.Background()))

	fwd := proxy.New(rt, proxy.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	agg := aggregator.New(fwd)

	opts = append([]Option{WithRepository(fx.repo)}, opts...)
	fx.gw, err = New(cfg, rt, fwd, agg, opts...)
	require.NoError(t, err)
	return fx
}

func (fx *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	fx.gw.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = New(config.DefaultConfig(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrMissingComponent)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestHandle_Routing(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		apiKey     string
		wantStatus int
		wantRoute  string
		wantError  string
	}{
		{name: "proxied", method: http.MethodGet, path: "/api/users/7", wantStatus: http.StatusOK, wantRoute: "get-user"},
		{name: "no route", method: http.MethodGet, path: "/api/nothing", wantStatus: http.StatusNotFound, wantError: "route not found"},
		{name: "method mismatch", method: http.MethodDelete, path: "/api/users/7", wantStatus: http.StatusNotFound},
		{name: "outside prefix", method: http.MethodGet, path: "/users/7", wantStatus: http.StatusNotFound},
		{name: "auth required", method: http.MethodGet, path: "/api/secure/1", wantStatus: http.StatusUnauthorized, wantRoute: "secure"},
		{name: "authenticated", method: http.MethodGet, path: "/api/secure/1", apiKey: "secret", wantStatus: http.StatusOK, wantRoute: "secure"},
		{name: "wrong key", method: http.MethodGet, path: "/api/secure/1", apiKey: "nope", wantStatus: http.StatusUnauthorized},
		{name: "backend failure", method: http.MethodGet, path: "/api/boom/fail", wantStatus: http.StatusServiceUnavailable, wantRoute: "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}
			w := fx.do(req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
			if tt.wantRoute != "" {
				assert.Equal(t, tt.wantRoute, w.Header().Get(proxy.HeaderGatewayRoute))
			}
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decode(t, w)["error"])
			}
		})
	}
}

func TestHandle_ForwardsRelativePath(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	w := fx.do(httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/users/42", decode(t, w)["path"])
}

func TestHandle_Maintenance(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, func(cfg *config.GatewayConfig) {
		cfg.Maintenance = config.MaintenanceConfig{Enabled: true, Message: "back soon"}
	})

	w := fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "back soon", decode(t, w)["message"])
	assert.Zero(t, fx.hits.Load())

	// Admin endpoints stay available.
	w = fx.do(httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandle_Aggregation(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	w := fx.do(httptest.NewRequest(http.MethodGet, "/api/profile/9", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "aggregation:profile", w.Header().Get(proxy.HeaderGatewayRoute))
	body := decode(t, w)
	assert.Contains(t, body, "user")
	assert.Contains(t, body, "orders")
	assert.EqualValues(t, 2, fx.hits.Load())
}

func TestHandle_RequestTooLarge(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, func(cfg *config.GatewayConfig) {
		cfg.Server.MaxBodyBytes = 8
	})
	w := fx.do(httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("this body is too long")))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, fx.hits.Load())
}

func TestHandle_RateLimit(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewLocalLimiter(ratelimit.Config{RPS: 1, Burst: 1})
	t.Cleanup(func() { _ = limiter.Close() })

	fx := newFixture(t, func(cfg *config.GatewayConfig) {
		cfg.RateLimit.Enabled = true
	}, WithLimiter(limiter))

	first := fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	second := fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.EqualValues(t, 1, fx.hits.Load())
}

func TestHandle_Backstop(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, func(cfg *config.GatewayConfig) {
		cfg.Backstop = config.BackstopConfig{Enabled: true, MaxFailures: 2, Timeout: config.Duration(time.Hour), HalfOpenMax: 1}
	})

	for range 2 {
		w := fx.do(httptest.NewRequest(http.MethodGet, "/api/boom/fail", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	}
	hits := fx.hits.Load()

	w := fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "circuit breaker open", decode(t, w)["error"])
	assert.Equal(t, hits, fx.hits.Load())
}

func TestAdmin_Endpoints(t *testing.T) {
	t.Parallel()

	h := health.NewHandler("test")
	fx := newFixture(t, func(cfg *config.GatewayConfig) {
		cfg.Observability.Metrics.Enabled = true
		cfg.Services[0].CircuitBreaker = config.CircuitBreakerConfig{Enabled: true, Threshold: 3}
	}, WithHealth(h))

	tests := []struct {
		name   string
		method string
		path   string
		check  func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name: "health", method: http.MethodGet, path: "/health",
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, "test", decode(t, w)["version"])
			},
		},
		{name: "ready", method: http.MethodGet, path: "/ready"},
		{name: "live", method: http.MethodGet, path: "/live"},
		{
			name: "metrics", method: http.MethodGet, path: "/metrics",
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Contains(t, w.Body.String(), "go_goroutines")
			},
		},
		{
			name: "circuit breakers", method: http.MethodGet, path: "/admin/circuit-breakers",
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				breakers, ok := decode(t, w)["circuit_breakers"].([]any)
				require.True(t, ok)
				require.Len(t, breakers, 1)
				assert.Equal(t, "users", breakers[0].(map[string]any)["name"])
			},
		},
		{
			name: "services", method: http.MethodGet, path: "/admin/services",
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				services, ok := decode(t, w)["services"].([]any)
				require.True(t, ok)
				assert.Len(t, services, 1)
			},
		},
		{name: "invalidate cache", method: http.MethodPost, path: "/admin/cache/invalidate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := fx.do(httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			if tt.check != nil {
				tt.check(t, w)
			}
		})
	}
}

func TestAdmin_ResetCircuitBreakers(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, func(cfg *config.GatewayConfig) {
		cfg.Services[0].CircuitBreaker = config.CircuitBreakerConfig{
			Enabled: true, Threshold: 2, RecoveryTimeout: config.Duration(time.Hour),
		}
	})

	for range 2 {
		w := fx.do(httptest.NewRequest(http.MethodGet, "/api/boom/fail", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
	}
	hits := fx.hits.Load()
	w := fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, hits, fx.hits.Load(), "open breaker rejects without calling the backend")

	w = fx.do(httptest.NewRequest(http.MethodPost, "/admin/circuit-breakers/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReload(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)

	w := fx.do(httptest.NewRequest(http.MethodGet, "/api/accounts/1", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	next := config.DefaultConfig()
	next.Services = []config.Service{{Name: "users", BaseURL: fx.backend.URL}}
	next.Routes = []config.Route{{ID: "accounts", PathPattern: "/accounts/{id}", Method: "GET", Service: "users"}}
	next.Maintenance.Message = "x"
	require.NoError(t, fx.gw.Reload(context.Background(), next))

	w = fx.do(httptest.NewRequest(http.MethodGet, "/api/accounts/1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accounts", w.Header().Get(proxy.HeaderGatewayRoute))

	w = fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Keys were dropped with the new configuration.
	assert.False(t, fx.gw.auth.Load().Enabled())
	assert.Same(t, next, fx.gw.Config())
}

func TestReload_Invalid(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	bad := config.DefaultConfig()
	bad.Routes = []config.Route{{PathPattern: "/x", Service: "missing"}}

	err := fx.gw.Reload(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, fx.gw.Reload(context.Background(), nil), ErrNilConfig)

	w := fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReload_UncompilableRouteKeepsRecords(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil)
	before, err := fx.repo.ListActiveRoutes(context.Background())
	require.NoError(t, err)

	bad := config.DefaultConfig()
	bad.Services = []config.Service{{Name: "users", BaseURL: fx.backend.URL}}
	bad.Routes = []config.Route{{ID: "broken", PathPattern: "/a/}x{id", Method: "GET", Service: "users"}}

	err = fx.gw.Reload(context.Background(), bad)
	require.ErrorIs(t, err, ErrInvalidConfig)

	after, err := fx.repo.ListActiveRoutes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotSame(t, bad, fx.gw.Config())

	w := fx.do(httptest.NewRequest(http.MethodGet, "/api/users/1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, nil, WithListenAddress("127.0.0.1:0"), WithShutdownTimeout(time.Second))
	ctx := context.Background()

	require.NoError(t, fx.gw.Start(ctx))
	assert.True(t, fx.gw.IsRunning())
	assert.ErrorIs(t, fx.gw.Start(ctx), ErrGatewayNotStopped)

	resp, err := http.Get("http://" + fx.gw.Address() + "/api/users/3")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Positive(t, fx.gw.Uptime())

	require.NoError(t, fx.gw.Stop(ctx))
	assert.Equal(t, StateStopped, fx.gw.State())
	assert.ErrorIs(t, fx.gw.Stop(ctx), ErrGatewayNotRunning)
}

func TestStripPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path, prefix string
		want         string
		ok           bool
	}{
		{path: "/api/users", prefix: "/api", want: "/users", ok: true},
		{path: "/api", prefix: "/api", want: "/", ok: true},
		{path: "/api/", prefix: "/api/", want: "/", ok: true},
		{path: "/apiary", prefix: "/api", ok: false},
		{path: "/users", prefix: "", want: "/users", ok: true},
		{path: "/users", prefix: "/", want: "/users", ok: true},
	}
	for _, tt := range tests {
		got, ok := stripPrefix(tt.path, tt.prefix)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}
