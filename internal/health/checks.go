package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Check is a named dependency check.
type Check struct {
	Name     string
	Critical bool
	fn       func(ctx context.Context) error
}

// CheckOption configures a Check.
type CheckOption func(*Check)

// WithCritical marks a check whose failure makes the gateway unready.
func WithCritical(critical bool) CheckOption {
	return func(c *Check) {
		c.Critical = critical
	}
}

// NewCheck creates a check. Checks are critical unless configured
// otherwise.
func NewCheck(name string, fn func(ctx context.Context) error, opts ...CheckOption) *Check {
	c := &Check{Name: name, Critical: true, fn: fn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the check.
func (c *Check) Run(ctx context.Context) error {
	return c.fn(ctx)
}

// Pinger is anything that can report reachability, such as the
// configuration repository or a Redis client wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks p.
func PingCheck(name string, p Pinger, opts ...CheckOption) *Check {
	return NewCheck(name, p.Ping, opts...)
}

// ServiceHealth is the view of one backend service used by BackendsCheck.
type ServiceHealth struct {
	Name    string
	Active  bool
	Healthy bool
}

// ErrNoHealthyService is returned by BackendsCheck when every active
// service is unhealthy.
var ErrNoHealthyService = errors.New("no healthy service")

// BackendsCheck fails when some active services are unhealthy. It is
// non-critical by default: unhealthy backends degrade the gateway, which
// still answers for the healthy ones.
func BackendsCheck(list func() []ServiceHealth, opts ...CheckOption) *Check {
	opts = append([]CheckOption{WithCritical(false)}, opts...)
	return NewCheck("backends", func(context.Context) error {
		var unhealthy []string
		active := 0
		for _, s := range list() {
			if !s.Active {
				continue
			}
			active++
			if !s.Healthy {
				unhealthy = append(unhealthy, s.Name)
			}
		}
		switch {
		case len(unhealthy) == 0:
			return nil
		case len(unhealthy) == active:
			return fmt.Errorf("%w: %s", ErrNoHealthyService, strings.Join(unhealthy, ", "))
		default:
			return fmt.Errorf("unhealthy services: %s", strings.Join(unhealthy, ", "))
		}
	}, opts...)
}
