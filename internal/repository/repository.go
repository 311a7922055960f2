// Package repository defines the read-only configuration repository the
// gateway core queries for routes, services, instances and aggregations,
// together with in-memory and SQL implementations.
package repository

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/svcgw/internal/config"
)

// ErrServiceNotFound is returned by GetService for unknown names.
var ErrServiceNotFound = errors.New("service not found")

// Repository is the query surface the gateway core depends on. All
// returned records are copies owned by the caller.
type Repository interface {
	// ListActiveRoutes returns active routes ordered by descending
	// priority. Routes of equal priority keep their storage order.
	ListActiveRoutes(ctx context.Context) ([]config.Route, error)

	// GetService returns the service with the given name.
	GetService(ctx context.Context, name string) (*config.Service, error)

	// ListServices returns every service, active or not.
	ListServices(ctx context.Context) ([]config.Service, error)

	// ListInstances returns the instances registered for a service.
	ListInstances(ctx context.Context, service string) ([]config.Instance, error)

	// FindAggregations returns active aggregations declared for exactly
	// this request path pattern and method. Aggregations declared for any
	// method are included.
	FindAggregations(ctx context.Context, requestPath, method string) ([]config.Aggregation, error)

	// ListAggregations returns every active aggregation.
	ListAggregations(ctx context.Context) ([]config.Aggregation, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Snapshot is a consistent copy of every record in a repository.
type Snapshot struct {
	Services     []config.Service
	Routes       []config.Route
	Aggregations []config.Aggregation
}

// Load reads a full snapshot from repo. Instances are attached to their
// services.
func Load(ctx context.Context, repo Repository) (*Snapshot, error) {
	services, err := repo.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range services {
		instances, err := repo.ListInstances(ctx, services[i].Name)
		if err != nil {
			return nil, err
		}
		services[i].Instances = instances
	}

	routes, err := repo.ListActiveRoutes(ctx)
	if err != nil {
		return nil, err
	}

	aggregations, err := repo.ListAggregations(ctx)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Services: services, Routes: routes, Aggregations: aggregations}, nil
}

func methodMatches(declared, method string) bool {
	return declared == config.MethodAny || declared == method
}
