package repository

import (
	"time"

	"github.com/vyrodovalexey/svcgw/internal/config"
)

type serviceModel struct {
	ID                  uint   `gorm:"primaryKey"`
	Name                string `gorm:"uniqueIndex;size:128;not null"`
	BaseURL             string `gorm:"size:512;not null"`
	TimeoutMs           int64
	Weight              *int
	MaxRetries          *int
	LoadBalancer        string `gorm:"size:32"`
	HealthCheckEnabled  bool
	HealthCheckType     string `gorm:"size:16"`
	HealthCheckPath     string `gorm:"size:256"`
	HealthCheckInterval int64
	HealthCheckTimeout  int64
	HealthChecker       string `gorm:"size:64"`
	BreakerEnabled      bool
	BreakerThreshold    int
	BreakerTimeoutMs    int64
	AuthRequired        bool
	APIKey              string `gorm:"size:256"`
	Active              bool   `gorm:"index;not null"`

	Instances []instanceModel `gorm:"foreignKey:ServiceID;constraint:OnDelete:CASCADE"`
}

func (serviceModel) TableName() string { return "gateway_services" }

type instanceModel struct {
	ID        uint   `gorm:"primaryKey"`
	ServiceID uint   `gorm:"index;not null"`
	Host      string `gorm:"size:255;not null"`
	Port      int    `gorm:"not null"`
	Weight    *int
	Scheme    string `gorm:"size:8"`
}

func (instanceModel) TableName() string { return "gateway_service_instances" }

type routeModel struct {
	ID                    uint   `gorm:"primaryKey"`
	RouteID               string `gorm:"size:128"`
	PathPattern           string `gorm:"size:512;not null"`
	Method                string `gorm:"size:8;not null"`
	ServiceName           string `gorm:"size:128;index;not null"`
	ServicePath           string `gorm:"size:512"`
	StripPrefix           bool
	AppendSlash           bool
	TransformRequest      string                 `gorm:"size:16"`
	TransformResponse     string                 `gorm:"size:16"`
	TransformConfig       config.TransformConfig `gorm:"serializer:json"`
	AddRequestHeaders     map[string]string      `gorm:"serializer:json"`
	RemoveRequestHeaders  []string               `gorm:"serializer:json"`
	AddResponseHeaders    map[string]string      `gorm:"serializer:json"`
	RemoveResponseHeaders []string               `gorm:"serializer:json"`
	AuthRequired          bool
	Priority              int  `gorm:"index"`
	Active                bool `gorm:"index;not null"`
}

func (routeModel) TableName() string { return "gateway_routes" }

type aggregationModel struct {
	ID                     uint                     `gorm:"primaryKey"`
	Name                   string                   `gorm:"uniqueIndex;size:128;not null"`
	Type                   string                   `gorm:"size:32;not null"`
	RequestPath            string                   `gorm:"size:512;index;not null"`
	RequestMethod          string                   `gorm:"size:8;not null"`
	Calls                  []config.AggregationCall `gorm:"serializer:json"`
	Scatter                *config.ScatterConfig    `gorm:"serializer:json"`
	Gather                 *config.GatherConfig     `gorm:"serializer:json"`
	MergeResponses         bool
	ResponseTemplate       any `gorm:"serializer:json"`
	FailFast               bool
	PartialResponseAllowed bool
	TimeoutMs              int64
	Active                 bool `gorm:"index;not null"`
}

func (aggregationModel) TableName() string { return "gateway_aggregations" }

func toMillis(d config.Duration) int64 { return d.Duration().Milliseconds() }

func fromMillis(ms int64) config.Duration { return config.Duration(time.Duration(ms) * time.Millisecond) }

func serviceToModel(s *config.Service) serviceModel {
	m := serviceModel{
		Name:                s.Name,
		BaseURL:             s.BaseURL,
		TimeoutMs:           toMillis(s.Timeout),
		Weight:              s.Weight,
		MaxRetries:          s.MaxRetries,
		LoadBalancer:        s.LoadBalancer,
		HealthCheckEnabled:  s.HealthCheck.Enabled,
		HealthCheckType:     s.HealthCheck.Type,
		HealthCheckPath:     s.HealthCheck.Path,
		HealthCheckInterval: toMillis(s.HealthCheck.Interval),
		HealthCheckTimeout:  toMillis(s.HealthCheck.Timeout),
		HealthChecker:       s.HealthCheck.Checker,
		BreakerEnabled:      s.CircuitBreaker.Enabled,
		BreakerThreshold:    s.CircuitBreaker.Threshold,
		BreakerTimeoutMs:    toMillis(s.CircuitBreaker.RecoveryTimeout),
		AuthRequired:        s.Auth.Required,
		APIKey:              s.Auth.APIKey,
		Active:              s.IsActive(),
	}
	for i := range s.Instances {
		inst := s.Instances[i]
		m.Instances = append(m.Instances, instanceModel{
			Host:   inst.Host,
			Port:   inst.Port,
			Weight: inst.Weight,
			Scheme: inst.Scheme,
		})
	}
	return m
}

func (m *serviceModel) toConfig() config.Service {
	return config.Service{
		Name:         m.Name,
		BaseURL:      m.BaseURL,
		Timeout:      fromMillis(m.TimeoutMs),
		Weight:       m.Weight,
		MaxRetries:   m.MaxRetries,
		LoadBalancer: m.LoadBalancer,
		HealthCheck: config.HealthCheck{
			Enabled:  m.HealthCheckEnabled,
			Type:     m.HealthCheckType,
			Path:     m.HealthCheckPath,
			Interval: fromMillis(m.HealthCheckInterval),
			Timeout:  fromMillis(m.HealthCheckTimeout),
			Checker:  m.HealthChecker,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			Enabled:         m.BreakerEnabled,
			Threshold:       m.BreakerThreshold,
			RecoveryTimeout: fromMillis(m.BreakerTimeoutMs),
		},
		Auth:   config.ServiceAuth{Required: m.AuthRequired, APIKey: m.APIKey},
		Active: config.BoolPtr(m.Active),
	}
}

func (m *instanceModel) toConfig() config.Instance {
	return config.Instance{Host: m.Host, Port: m.Port, Weight: m.Weight, Scheme: m.Scheme}
}

func routeToModel(r *config.Route) routeModel {
	return routeModel{
		RouteID:               r.ID,
		PathPattern:           r.PathPattern,
		Method:                r.EffectiveMethod(),
		ServiceName:           r.Service,
		ServicePath:           r.ServicePath,
		StripPrefix:           r.StripPrefix,
		AppendSlash:           r.AppendSlash,
		TransformRequest:      r.TransformRequest,
		TransformResponse:     r.TransformResponse,
		TransformConfig:       r.TransformConfig,
		AddRequestHeaders:     r.AddRequestHeaders,
		RemoveRequestHeaders:  r.RemoveRequestHeaders,
		AddResponseHeaders:    r.AddResponseHeaders,
		RemoveResponseHeaders: r.RemoveResponseHeaders,
		AuthRequired:          r.AuthRequired,
		Priority:              r.Priority,
		Active:                r.IsActive(),
	}
}

func (m *routeModel) toConfig() config.Route {
	return config.Route{
		ID:                    m.RouteID,
		PathPattern:           m.PathPattern,
		Method:                m.Method,
		Service:               m.ServiceName,
		ServicePath:           m.ServicePath,
		StripPrefix:           m.StripPrefix,
		AppendSlash:           m.AppendSlash,
		TransformRequest:      m.TransformRequest,
		TransformResponse:     m.TransformResponse,
		TransformConfig:       m.TransformConfig,
		AddRequestHeaders:     m.AddRequestHeaders,
		RemoveRequestHeaders:  m.RemoveRequestHeaders,
		AddResponseHeaders:    m.AddResponseHeaders,
		RemoveResponseHeaders: m.RemoveResponseHeaders,
		AuthRequired:          m.AuthRequired,
		Priority:              m.Priority,
		Active:                config.BoolPtr(m.Active),
	}
}

func aggregationToModel(a *config.Aggregation) aggregationModel {
	return aggregationModel{
		Name:                   a.Name,
		Type:                   a.Type,
		RequestPath:            a.RequestPath,
		RequestMethod:          a.EffectiveMethod(),
		Calls:                  a.Calls,
		Scatter:                a.Scatter,
		Gather:                 a.Gather,
		MergeResponses:         a.MergeResponses,
		ResponseTemplate:       a.ResponseTemplate,
		FailFast:               a.FailFast,
		PartialResponseAllowed: a.AllowsPartial(),
		TimeoutMs:              toMillis(a.Timeout),
		Active:                 a.IsActive(),
	}
}

func (m *aggregationModel) toConfig() config.Aggregation {
	return config.Aggregation{
		Name:                   m.Name,
		Type:                   m.Type,
		RequestPath:            m.RequestPath,
		RequestMethod:          m.RequestMethod,
		Calls:                  m.Calls,
		Scatter:                m.Scatter,
		Gather:                 m.Gather,
		MergeResponses:         m.MergeResponses,
		ResponseTemplate:       m.ResponseTemplate,
		FailFast:               m.FailFast,
		PartialResponseAllowed: config.BoolPtr(m.PartialResponseAllowed),
		Timeout:                fromMillis(m.TimeoutMs),
		Active:                 config.BoolPtr(m.Active),
	}
}
