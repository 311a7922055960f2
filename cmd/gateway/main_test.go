package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/health"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/ratelimit"
	"github.com/vyrodovalexey/svcgw/internal/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(backendURL string) *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Services = []config.Service{{Name: "users", BaseURL: backendURL}}
	cfg.Routes = []config.Route{{ID: "users", PathPattern: "/users/{id}", Method: "GET", Service: "users"}}
	return cfg
}

func TestOverrideBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		expected bool
	}{
		{value: "", fallback: true, expected: true},
		{value: "true", expected: true},
		{value: "YES", expected: true},
		{value: "1", expected: true},
		{value: "off", fallback: true, expected: false},
		{value: "0", fallback: true, expected: false},
		{value: "maybe", fallback: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(envPrefix+"TEST_SWITCH", tt.value)
			got := tt.fallback
			overrideBool(&got, "TEST_SWITCH")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("GATEWAY_CONFIG_PATH", "/etc/svcgw/gateway.yaml")

	flags := parseFlags(nil)
	assert.Equal(t, "/etc/svcgw/gateway.yaml", flags.configPath)
	assert.False(t, flags.showVersion)

	flags = parseFlags([]string{"-config", "local.yaml", "-log-level", "debug", "-version"})
	assert.Equal(t, "local.yaml", flags.configPath)
	assert.Equal(t, "debug", flags.logLevel)
	assert.True(t, flags.showVersion)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_MAINTENANCE", "true")
	t.Setenv("GATEWAY_REDIS_ADDRESS", "redis:6379")
	t.Setenv("GATEWAY_PORT", "9443")
	t.Setenv("GATEWAY_REPOSITORY_DSN", "")

	cfg := config.DefaultConfig()
	cfg.Repository.DSN = "file.db"
	applyEnvOverrides(cfg)

	assert.True(t, cfg.Maintenance.Enabled)
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.RateLimit.RedisAddress)
	assert.Equal(t, "file.db", cfg.Repository.DSN, "empty values are ignored")

	t.Setenv("GATEWAY_PORT", "not-a-port")
	applyEnvOverrides(cfg)
	assert.Equal(t, 9443, cfg.Server.Port)
}

func TestLoadAndValidateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8081
services:
  - name: users
    baseUrl: http://users:8000
routes:
  - pathPattern: /users/{id}
    method: GET
    service: users
`), 0o600))

	cfg := loadAndValidateConfig(path, observability.NopLogger())
	require.NotNil(t, cfg)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Len(t, cfg.Routes, 1)
}

func TestLoadAndValidateConfig_Invalid(t *testing.T) {
	var code int
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() { exitFunc = os.Exit })

	cfg := loadAndValidateConfig(filepath.Join(t.TempDir(), "missing.yaml"), observability.NopLogger())
	assert.Nil(t, cfg)
	assert.Equal(t, 1, code)
}

func TestInitAppLogger(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Observability.Logging.Level = "nonsense"
	fallback := observability.NopLogger()

	assert.Same(t, fallback, initAppLogger(cfg, cliFlags{}, fallback))
	assert.NotSame(t, fallback, initAppLogger(cfg, cliFlags{logLevel: "debug"}, fallback))
}

func TestOpenRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig("http://users:8000")

	repo, err := openRepository(ctx, cfg, observability.NopLogger())
	require.NoError(t, err)
	assert.IsType(t, &repository.Memory{}, repo)

	cfg.Repository = config.RepositoryConfig{Driver: config.RepositorySQLite, DSN: ":memory:", Seed: true}
	repo, err = openRepository(ctx, cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	routes, err := repo.ListActiveRoutes(ctx)
	require.NoError(t, err)
	assert.Len(t, routes, 1)

	cfg.Repository.Driver = "oracle"
	_, err = openRepository(ctx, cfg, observability.NopLogger())
	assert.Error(t, err)
}

func TestNewLimiter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := config.RateLimitConfig{Enabled: true, RPS: 5, Burst: 5}

	t.Run("local", func(t *testing.T) {
		t.Parallel()

		l := newLimiter(ctx, cfg, observability.NopLogger(), health.NewHandler("v"))
		t.Cleanup(func() { _ = l.Close() })
		assert.IsType(t, &ratelimit.LocalLimiter{}, l)
	})

	t.Run("redis", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		c := cfg
		c.RedisAddress = mr.Addr()
		h := health.NewHandler("v")

		l := newLimiter(ctx, c, observability.NopLogger(), h)
		t.Cleanup(func() { _ = l.Close() })
		require.IsType(t, &ratelimit.RedisLimiter{}, l)

		res, err := l.Allow(ctx, ratelimit.GlobalKey)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Contains(t, h.Run(ctx).Checks, "redis")
	})

	t.Run("redis unreachable", func(t *testing.T) {
		t.Parallel()

		c := cfg
		c.RedisAddress = "127.0.0.1:1"
		l := newLimiter(ctx, c, observability.NopLogger(), health.NewHandler("v"))
		t.Cleanup(func() { _ = l.Close() })
		assert.IsType(t, &ratelimit.LocalLimiter{}, l)
	})
}

func TestBuildApplication(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"path": r.URL.Path})
	}))
	t.Cleanup(backend.Close)

	cfg := testConfig(backend.URL)
	cfg.RateLimit.Enabled = true

	app, err := buildApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.limiter.Close() })
	require.NotNil(t, app.limiter)

	w := httptest.NewRecorder()
	app.gateway.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/5", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "users", w.Header().Get("X-Gateway-Route"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	app.gateway.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestReloadGateway(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://users:8000")
	app, err := buildApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)

	next := testConfig("http://users:8000")
	next.Maintenance.Enabled = true
	reloadGateway(app, next, observability.NopLogger())
	assert.True(t, app.gateway.Config().Maintenance.Enabled)

	bad := testConfig("http://users:8000")
	bad.Routes[0].Service = "unknown"
	reloadGateway(app, bad, observability.NopLogger())
	assert.Same(t, next, app.gateway.Config())
}

func TestCreateMetricsServer(t *testing.T) {
	t.Parallel()

	server := createMetricsServer(9191, "/metrics", health.NewHandler("v"), observability.NopLogger())
	assert.Equal(t, ":9191", server.Addr)

	for _, path := range []string{"/metrics", "/health", "/ready", "/live"} {
		w := httptest.NewRecorder()
		server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
