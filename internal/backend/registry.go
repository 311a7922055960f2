package backend

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/repository"
)

// Registry holds the runtime Service of every configured backend.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	order    []string
	logger   observability.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry.
func WithRegistryLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		services: make(map[string]*Service),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the registry content with the services stored in repo.
func (r *Registry) Load(ctx context.Context, repo repository.Repository) error {
	services, err := repo.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}
	for i := range services {
		instances, err := repo.ListInstances(ctx, services[i].Name)
		if err != nil {
			return fmt.Errorf("load instances of %s: %w", services[i].Name, err)
		}
		services[i].Instances = instances
	}
	r.Sync(services)
	return nil
}

// Sync replaces the registry content. A service whose configuration did
// not change keeps its runtime object. A changed service gets a new
// object that inherits the health flags and counters of matching
// instances.
func (r *Registry) Sync(services []config.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*Service, len(services))
	order := make([]string, 0, len(services))
	for i := range services {
		cfg := services[i]
		prev, ok := r.services[cfg.Name]
		switch {
		case ok && reflect.DeepEqual(prev.cfg, cfg):
			next[cfg.Name] = prev
		case ok:
			svc := newService(cfg)
			svc.adopt(prev)
			next[cfg.Name] = svc
			r.logger.Info("service updated", observability.String("service", cfg.Name))
		default:
			next[cfg.Name] = newService(cfg)
			r.logger.Info("service registered",
				observability.String("service", cfg.Name),
				observability.Int("instances", len(cfg.Instances)),
			)
		}
		order = append(order, cfg.Name)
	}
	for name := range r.services {
		if _, ok := next[name]; !ok {
			r.logger.Info("service unregistered", observability.String("service", name))
		}
	}

	r.services = next
	r.order = order
}

// Get returns a service by name.
func (r *Registry) Get(name string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// All returns every service in configuration order.
func (r *Registry) All() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Service, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.services[name])
	}
	return out
}

// Statuses returns the health of every service in configuration order.
func (r *Registry) Statuses() []Status {
	services := r.All()
	out := make([]Status, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.Status())
	}
	return out
}
