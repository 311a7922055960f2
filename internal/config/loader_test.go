package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleConfigYAML exercises every record type.
const sampleConfigYAML = `
server:
  port: 8081
  prefix: /gw
maintenance:
  enabled: false
loadBalancer:
  strategy: round_robin
services:
  - name: users-api
    baseUrl: ${USERS_URL:-http://users:8000}
    timeout: 5
    healthCheck:
      enabled: true
      type: tcp
      interval: 15s
    circuitBreaker:
      enabled: true
      threshold: 3
      timeout: 1m
    instances:
      - host: 10.0.0.1
        port: 8000
        weight: 0
      - host: 10.0.0.2
        port: 8000
  - name: orders-api
    baseUrl: http://orders:9000
routes:
  - pathPattern: /users/{id}
    method: get
    service: users-api
    priority: 10
  - pathPattern: /orders/{id}
    service: orders-api
    servicePath: /internal/orders/{id}
aggregations:
  - name: dashboard
    type: sequential
    requestPath: /dashboard/{id}
    requestMethod: GET
    calls:
      - name: user
        service: users-api
        path: /users/{id}
      - name: orders
        service: orders-api
        path: /orders?user=${user.id}
        dependsOn: [user]
`

func TestLoadConfigFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(sampleConfigYAML))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "/gw", cfg.Server.Prefix)
	assert.Equal(t, StrategyRoundRobin, cfg.LoadBalancer.Strategy)

	require.Len(t, cfg.Services, 2)
	users := cfg.Services[0]
	assert.Equal(t, "http://users:8000", users.BaseURL)
	assert.Equal(t, 5*time.Second, users.EffectiveTimeout())
	assert.Equal(t, 15*time.Second, users.HealthCheck.EffectiveInterval())
	assert.Equal(t, HealthCheckTCP, users.HealthCheck.EffectiveType())
	assert.Equal(t, 3, users.CircuitBreaker.EffectiveThreshold())
	assert.Equal(t, time.Minute, users.CircuitBreaker.EffectiveRecoveryTimeout())
	assert.Equal(t, 0, users.Instances[0].EffectiveWeight())
	assert.Equal(t, DefaultServiceWeight, users.Instances[1].EffectiveWeight())
	assert.True(t, users.IsActive())
	assert.Equal(t, DefaultMaxRetries, users.EffectiveMaxRetries())

	assert.Equal(t, "GET", cfg.Routes[0].EffectiveMethod())
	assert.Equal(t, MethodAny, cfg.Routes[1].EffectiveMethod())
	assert.Equal(t, "dashboard", cfg.Aggregations[0].Name)
	assert.True(t, cfg.Aggregations[0].AllowsPartial())
	assert.Equal(t, "/orders?user=${user.id}", cfg.Aggregations[0].Calls[1].Path)

	// defaults
	assert.Equal(t, DefaultWorkers, cfg.Aggregator.Workers)
	assert.Equal(t, DefaultCallTimeout, cfg.Aggregator.CallTimeout.Duration())
	assert.Equal(t, RepositoryMemory, cfg.Repository.Driver)
}

func TestLoadConfig_EnvSubstitution(t *testing.T) {
	t.Setenv("USERS_URL", "http://override:1234")

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfigYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://override:1234", cfg.Services[0].BaseURL)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfigFromReader(strings.NewReader("server: [unclosed"))
	assert.Error(t, err)

	_, err = LoadConfigFromReader(strings.NewReader("unknownSection: 1"))
	assert.Error(t, err)
}

func TestLoadConfig_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, StrategyWeightedRandom, cfg.LoadBalancer.Strategy)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("SVCGW_TEST_VAR", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"${SVCGW_TEST_VAR}", "value"},
		{"${SVCGW_TEST_UNSET:-fallback}", "fallback"},
		{"${SVCGW_TEST_UNSET}", ""},
		{"$${SVCGW_TEST_VAR}", "${SVCGW_TEST_VAR}"},
		{"plain", "plain"},
		{"/orders?user=${user.id}", "/orders?user=${user.id}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, substituteEnvVars(tt.in), tt.in)
	}
}

func TestDuration_Parse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"", 0, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.Duration())
	}
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"2m"`)))
	assert.Equal(t, 2*time.Minute, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`3`)))
	assert.Equal(t, 3*time.Second, d.Duration())

	b, err := Duration(time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1s"`, string(b))
}

func TestRoute_Helpers(t *testing.T) {
	t.Parallel()

	r := Route{PathPattern: "/users/{id}/orders/{oid}", Method: "post"}
	assert.Equal(t, "/users", r.LiteralPrefix())
	assert.Equal(t, "POST /users/{id}/orders/{oid}", r.Key())

	r.ID = "orders"
	assert.Equal(t, "orders", r.Key())

	literal := Route{PathPattern: "/status/"}
	assert.Equal(t, "/status", literal.LiteralPrefix())
	assert.Equal(t, TransformNone, EffectiveKind(""))
}

func TestInstance_URL(t *testing.T) {
	t.Parallel()

	inst := Instance{Host: "10.0.0.1", Port: 8000}
	assert.Equal(t, "http://10.0.0.1:8000", inst.URL())

	inst.Scheme = "https"
	assert.Equal(t, "https://10.0.0.1:8000", inst.URL())
}
