package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/svcgw/internal/util"
)

func validConfig() *GatewayConfig {
	cfg := DefaultConfig()
	cfg.Services = []Service{
		{Name: "users-api", BaseURL: "http://users:8000"},
		{Name: "orders-api", BaseURL: "http://orders:9000"},
	}
	cfg.Routes = []Route{
		{PathPattern: "/users/{id}", Method: "GET", Service: "users-api"},
	}
	cfg.Aggregations = []Aggregation{
		{
			Name:        "dashboard",
			Type:        AggregationParallel,
			RequestPath: "/dashboard/{id}",
			Calls: []AggregationCall{
				{Name: "user", Service: "users-api", Path: "/users/{id}"},
				{Name: "orders", Service: "orders-api", Path: "/orders", DependsOn: []string{"user"}},
			},
		},
	}
	return cfg
}

func TestValidateConfig_Valid(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateConfig(validConfig()))
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrConfigInvalid)
}

func TestValidateConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		errPath string
	}{
		{
			name:    "bad port",
			mutate:  func(c *GatewayConfig) { c.Server.Port = 70000 },
			errPath: "server.port",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *GatewayConfig) { c.LoadBalancer.Strategy = "fastest" },
			errPath: "loadBalancer.strategy",
		},
		{
			name:    "duplicate service",
			mutate:  func(c *GatewayConfig) { c.Services = append(c.Services, c.Services[0]) },
			errPath: "services[2].name",
		},
		{
			name:    "bad base url",
			mutate:  func(c *GatewayConfig) { c.Services[0].BaseURL = "users:8000" },
			errPath: "services[0].baseUrl",
		},
		{
			name: "duplicate active route",
			mutate: func(c *GatewayConfig) {
				c.Routes = append(c.Routes, Route{PathPattern: "/users/{id}", Method: "get", Service: "orders-api"})
			},
			errPath: "routes[1]",
		},
		{
			name:    "unknown route service",
			mutate:  func(c *GatewayConfig) { c.Routes[0].Service = "billing" },
			errPath: "routes[0].service",
		},
		{
			name:    "service path placeholder",
			mutate:  func(c *GatewayConfig) { c.Routes[0].ServicePath = "/internal/{uid}" },
			errPath: "routes[0].servicePath",
		},
		{
			name:    "custom transform without expression",
			mutate:  func(c *GatewayConfig) { c.Routes[0].TransformResponse = TransformCustom },
			errPath: "routes[0].transformResponse",
		},
		{
			name:    "bad placeholder",
			mutate:  func(c *GatewayConfig) { c.Routes[0].PathPattern = "/users/{1d}" },
			errPath: "routes[0].pathPattern",
		},
		{
			name: "dangling dependency",
			mutate: func(c *GatewayConfig) {
				c.Aggregations[0].Calls[1].DependsOn = []string{"profile"}
			},
			errPath: "aggregations[0].calls[1].dependsOn",
		},
		{
			name: "self dependency",
			mutate: func(c *GatewayConfig) {
				c.Aggregations[0].Calls[0].DependsOn = []string{"user"}
			},
			errPath: "aggregations[0].calls[0].dependsOn",
		},
		{
			name:    "unknown aggregation type",
			mutate:  func(c *GatewayConfig) { c.Aggregations[0].Type = "fanout" },
			errPath: "aggregations[0].type",
		},
		{
			name: "bad condition operator",
			mutate: func(c *GatewayConfig) {
				c.Aggregations[0].Calls[1].Condition = &Condition{Field: "$user.active", Operator: "~=", Value: true}
			},
			errPath: "aggregations[0].calls[1].condition.operator",
		},
		{
			name: "reduce without field",
			mutate: func(c *GatewayConfig) {
				c.Aggregations[0].Type = AggregationScatterGather
				c.Aggregations[0].Gather = &GatherConfig{Method: GatherReduce, Operation: ReduceSum}
			},
			errPath: "aggregations[0].gather.field",
		},
		{
			name: "sql without dsn",
			mutate: func(c *GatewayConfig) {
				c.Repository.Driver = RepositorySQLite
			},
			errPath: "repository.dsn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrConfigInvalid)

			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			paths := make([]string, 0, len(verrs))
			for _, e := range verrs {
				paths = append(paths, e.Path)
			}
			assert.Contains(t, paths, tt.errPath)
		})
	}
}

func TestValidateConfig_InactiveDuplicateAllowed(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Routes = append(cfg.Routes, Route{
		PathPattern: "/users/{id}", Method: "GET", Service: "orders-api", Active: BoolPtr(false),
	})
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
	assert.Equal(t, "a: b", ValidationErrors{{Path: "a", Message: "b"}}.Error())
	assert.Contains(t, ValidationErrors{{Message: "x"}, {Message: "y"}}.Error(), "2 validation errors")
}
