package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vyrodovalexey/svcgw/internal/config"
)

// Memory serves records held in memory, usually the inline sections of the
// gateway configuration file. Replace swaps the whole record set at once.
type Memory struct {
	mu           sync.RWMutex
	services     map[string]config.Service
	serviceOrder []string
	routes       []config.Route
	aggregations []config.Aggregation
}

// NewMemory creates a repository over the given records.
func NewMemory(services []config.Service, routes []config.Route, aggregations []config.Aggregation) *Memory {
	m := &Memory{}
	m.Replace(services, routes, aggregations)
	return m
}

// NewMemoryFromConfig creates a repository over the inline records of cfg.
func NewMemoryFromConfig(cfg *config.GatewayConfig) *Memory {
	return NewMemory(cfg.Services, cfg.Routes, cfg.Aggregations)
}

// Replace atomically swaps every record.
func (m *Memory) Replace(services []config.Service, routes []config.Route, aggregations []config.Aggregation) {
	byName := make(map[string]config.Service, len(services))
	order := make([]string, 0, len(services))
	for i := range services {
		byName[services[i].Name] = cloneService(services[i])
		order = append(order, services[i].Name)
	}

	active := make([]config.Route, 0, len(routes))
	for i := range routes {
		if routes[i].IsActive() {
			active = append(active, routes[i])
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})

	aggs := make([]config.Aggregation, 0, len(aggregations))
	for i := range aggregations {
		if aggregations[i].IsActive() {
			aggs = append(aggs, aggregations[i])
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = byName
	m.serviceOrder = order
	m.routes = active
	m.aggregations = aggs
}

// ListActiveRoutes implements Repository.
func (m *Memory) ListActiveRoutes(_ context.Context) ([]config.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]config.Route, len(m.routes))
	copy(out, m.routes)
	return out, nil
}

// GetService implements Repository.
func (m *Memory) GetService(_ context.Context, name string) (*config.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	out := cloneService(svc)
	return &out, nil
}

// ListServices implements Repository.
func (m *Memory) ListServices(_ context.Context) ([]config.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]config.Service, 0, len(m.serviceOrder))
	for _, name := range m.serviceOrder {
		out = append(out, cloneService(m.services[name]))
	}
	return out, nil
}

// ListInstances implements Repository.
func (m *Memory) ListInstances(_ context.Context, service string) ([]config.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}
	out := make([]config.Instance, len(svc.Instances))
	copy(out, svc.Instances)
	return out, nil
}

// FindAggregations implements Repository.
func (m *Memory) FindAggregations(_ context.Context, requestPath, method string) ([]config.Aggregation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	method = strings.ToUpper(method)
	var out []config.Aggregation
	for i := range m.aggregations {
		a := m.aggregations[i]
		if a.RequestPath == requestPath && methodMatches(a.EffectiveMethod(), method) {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListAggregations implements Repository.
func (m *Memory) ListAggregations(_ context.Context) ([]config.Aggregation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]config.Aggregation, len(m.aggregations))
	copy(out, m.aggregations)
	return out, nil
}

// Ping implements Repository. Memory is always reachable.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Repository.
func (m *Memory) Close() error { return nil }

func cloneService(s config.Service) config.Service {
	if s.Instances != nil {
		instances := make([]config.Instance, len(s.Instances))
		copy(instances, s.Instances)
		s.Instances = instances
	}
	return s
}
