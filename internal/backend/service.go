package backend

import (
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/svcgw/internal/config"
)

// Instance is the runtime state of one service endpoint.
type Instance struct {
	host      string
	port      int
	baseURL   string
	synthetic bool

	weight              atomic.Int64
	healthy             atomic.Bool
	connections         atomic.Int64
	consecutiveFailures atomic.Int64
	lastUsed            atomic.Int64
}

func newInstance(cfg config.Instance) *Instance {
	inst := &Instance{
		host:    cfg.Host,
		port:    cfg.Port,
		baseURL: cfg.URL(),
	}
	inst.weight.Store(int64(cfg.EffectiveWeight()))
	inst.healthy.Store(true)
	return inst
}

// newFallbackInstance creates the synthetic instance standing for the
// service base URL.
func newFallbackInstance(baseURL string) *Instance {
	inst := &Instance{baseURL: baseURL, synthetic: true}
	inst.weight.Store(config.DefaultServiceWeight)
	inst.healthy.Store(true)
	return inst
}

// Host returns the instance host. It is empty for the base URL fallback.
func (i *Instance) Host() string { return i.host }

// Port returns the instance port.
func (i *Instance) Port() int { return i.port }

// URL returns the base URL requests are sent to.
func (i *Instance) URL() string { return i.baseURL }

// Synthetic reports whether the instance stands for the service base URL.
func (i *Instance) Synthetic() bool { return i.synthetic }

// Weight returns the load balancing weight. Zero drains the instance.
func (i *Instance) Weight() int { return int(i.weight.Load()) }

// IsHealthy returns the result of the last check.
func (i *Instance) IsHealthy() bool { return i.healthy.Load() }

// SetHealthy overrides the health flag.
func (i *Instance) SetHealthy(healthy bool) { i.healthy.Store(healthy) }

// Connections returns the number of in-flight requests.
func (i *Instance) Connections() int64 { return i.connections.Load() }

// ConsecutiveFailures returns the number of failed checks since the last
// successful one.
func (i *Instance) ConsecutiveFailures() int64 { return i.consecutiveFailures.Load() }

// Acquire counts a request sent to the instance. Callers must Release it.
func (i *Instance) Acquire() {
	i.connections.Add(1)
	i.lastUsed.Store(time.Now().UnixNano())
}

// Release undoes Acquire.
func (i *Instance) Release() {
	i.connections.Add(-1)
}

// LastUsed returns when the instance last received a request.
func (i *Instance) LastUsed() time.Time {
	ns := i.lastUsed.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// recordCheck applies a check result and reports whether health changed.
func (i *Instance) recordCheck(ok bool) bool {
	if ok {
		i.consecutiveFailures.Store(0)
	} else {
		i.consecutiveFailures.Add(1)
	}
	return i.healthy.Swap(ok) != ok
}

// eligible reports whether the load balancer may pick the instance.
func (i *Instance) eligible() bool {
	return i.IsHealthy() && i.Weight() > 0
}

// Service is the runtime state of a registered service.
type Service struct {
	cfg       config.Service
	instances []*Instance
	fallback  *Instance

	healthy         atomic.Bool
	lastHealthCheck atomic.Int64
}

func newService(cfg config.Service) *Service {
	s := &Service{
		cfg:       cfg,
		instances: make([]*Instance, 0, len(cfg.Instances)),
		fallback:  newFallbackInstance(cfg.BaseURL),
	}
	for _, ic := range cfg.Instances {
		s.instances = append(s.instances, newInstance(ic))
	}
	s.healthy.Store(true)
	return s
}

// Name returns the unique service name.
func (s *Service) Name() string { return s.cfg.Name }

// Config returns the configuration record the service was built from.
func (s *Service) Config() config.Service { return s.cfg }

// Instances returns the registered instances. The slice must not be
// modified.
func (s *Service) Instances() []*Instance { return s.instances }

// IsActive reports whether the service takes traffic.
func (s *Service) IsActive() bool { return s.cfg.IsActive() }

// IsHealthy returns the result of the last service-level check.
func (s *Service) IsHealthy() bool { return s.healthy.Load() }

// SetHealthy overrides the health flag.
func (s *Service) SetHealthy(healthy bool) { s.healthy.Store(healthy) }

// LastHealthCheck returns when the service was last checked.
func (s *Service) LastHealthCheck() time.Time {
	ns := s.lastHealthCheck.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Service) recordCheck(ok bool, at time.Time) bool {
	s.lastHealthCheck.Store(at.UnixNano())
	return s.healthy.Swap(ok) != ok
}

// adopt carries runtime state of prev over to s. Instances are matched
// by base URL.
func (s *Service) adopt(prev *Service) {
	s.healthy.Store(prev.healthy.Load())
	s.lastHealthCheck.Store(prev.lastHealthCheck.Load())
	if prev.cfg.BaseURL == s.cfg.BaseURL {
		s.fallback = prev.fallback
	}

	byURL := make(map[string]*Instance, len(prev.instances))
	for _, inst := range prev.instances {
		byURL[inst.baseURL] = inst
	}
	for idx, inst := range s.instances {
		old, ok := byURL[inst.baseURL]
		if !ok {
			continue
		}
		old.weight.Store(inst.weight.Load())
		s.instances[idx] = old
	}
}

// Status is the observable health of a service.
type Status struct {
	Name            string           `json:"name"`
	BaseURL         string           `json:"base_url"`
	Active          bool             `json:"active"`
	Healthy         bool             `json:"healthy"`
	LastHealthCheck *time.Time       `json:"last_health_check,omitempty"`
	Instances       []InstanceStatus `json:"instances,omitempty"`
}

// InstanceStatus is the observable state of an instance.
type InstanceStatus struct {
	URL                 string `json:"url"`
	Weight              int    `json:"weight"`
	Healthy             bool   `json:"healthy"`
	Connections         int64  `json:"current_connections"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
}

// Status returns a point-in-time view of the service.
func (s *Service) Status() Status {
	st := Status{
		Name:    s.cfg.Name,
		BaseURL: s.cfg.BaseURL,
		Active:  s.cfg.IsActive(),
		Healthy: s.IsHealthy(),
	}
	if last := s.LastHealthCheck(); !last.IsZero() {
		st.LastHealthCheck = &last
	}
	for _, inst := range s.instances {
		st.Instances = append(st.Instances, InstanceStatus{
			URL:                 inst.URL(),
			Weight:              inst.Weight(),
			Healthy:             inst.IsHealthy(),
			Connections:         inst.Connections(),
			ConsecutiveFailures: inst.ConsecutiveFailures(),
		})
	}
	return st
}
