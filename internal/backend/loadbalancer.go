package backend

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// Balancer picks one instance out of a non-empty candidate list.
type Balancer interface {
	Next(instances []*Instance, clientIP string) *Instance
}

// RoundRobinBalancer cycles through the candidates with a monotonically
// increasing counter.
type RoundRobinBalancer struct {
	current atomic.Uint64
}

// Next implements Balancer.
func (b *RoundRobinBalancer) Next(instances []*Instance, _ string) *Instance {
	idx := b.current.Add(1) - 1
	return instances[idx%uint64(len(instances))]
}

// RandomBalancer picks a candidate uniformly at random.
type RandomBalancer struct{}

// Next implements Balancer.
func (RandomBalancer) Next(instances []*Instance, _ string) *Instance {
	return instances[secureRandomInt(len(instances))]
}

// WeightedRandomBalancer picks a candidate with probability proportional
// to its weight.
type WeightedRandomBalancer struct{}

// Next implements Balancer.
func (WeightedRandomBalancer) Next(instances []*Instance, _ string) *Instance {
	totalWeight := 0
	for _, inst := range instances {
		totalWeight += inst.Weight()
	}
	if totalWeight <= 0 {
		return instances[0]
	}

	r := secureRandomInt(totalWeight)
	cumulative := 0
	for _, inst := range instances {
		cumulative += inst.Weight()
		if cumulative > r {
			return inst
		}
	}
	return instances[len(instances)-1]
}

// LeastConnBalancer picks the candidate with the fewest in-flight
// requests. Ties go to the earliest candidate.
type LeastConnBalancer struct{}

// Next implements Balancer.
func (LeastConnBalancer) Next(instances []*Instance, _ string) *Instance {
	selected := instances[0]
	minConns := selected.Connections()
	for _, inst := range instances[1:] {
		if conns := inst.Connections(); conns < minConns {
			minConns = conns
			selected = inst
		}
	}
	return selected
}

// IPHashBalancer sends every request of a client to the same candidate
// as long as the candidate list does not change.
type IPHashBalancer struct{}

// Next implements Balancer.
func (IPHashBalancer) Next(instances []*Instance, clientIP string) *Instance {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientIP))
	return instances[h.Sum32()%uint32(len(instances))]
}

// NewBalancer creates a balancer for the strategy. Unknown strategies
// fall back to weighted random.
func NewBalancer(strategy string) Balancer {
	switch strategy {
	case config.StrategyRoundRobin:
		return &RoundRobinBalancer{}
	case config.StrategyRandom:
		return RandomBalancer{}
	case config.StrategyLeastConnections:
		return LeastConnBalancer{}
	case config.StrategyIPHash:
		return IPHashBalancer{}
	default:
		return WeightedRandomBalancer{}
	}
}

// LoadBalancer selects instances for services. It owns one balancer per
// service so that round-robin counters are per service.
type LoadBalancer struct {
	strategy  string
	balancers sync.Map // service name -> *serviceBalancer
}

type serviceBalancer struct {
	strategy string
	balancer Balancer
}

// NewLoadBalancer creates a load balancer whose services use strategy
// unless they configure their own.
func NewLoadBalancer(strategy string) *LoadBalancer {
	if strategy == "" {
		strategy = config.StrategyWeightedRandom
	}
	return &LoadBalancer{strategy: strategy}
}

// Strategy returns the default strategy.
func (lb *LoadBalancer) Strategy() string {
	return lb.strategy
}

// Select returns an instance of svc. Only healthy instances with a
// positive weight are candidates. Without candidates, a healthy service
// is reached through its base URL, otherwise ServiceUnavailable is
// returned.
func (lb *LoadBalancer) Select(svc *Service, clientIP string) (*Instance, error) {
	candidates := make([]*Instance, 0, len(svc.instances))
	for _, inst := range svc.instances {
		if inst.eligible() {
			candidates = append(candidates, inst)
		}
	}

	if len(candidates) == 0 {
		if svc.IsHealthy() && svc.cfg.BaseURL != "" {
			recordSelection(svc.Name(), svc.fallback.URL())
			return svc.fallback, nil
		}
		return nil, util.NewServiceUnavailableError(svc.Name(), "no healthy instance available", nil)
	}

	inst := lb.balancerFor(svc).Next(candidates, clientIP)
	recordSelection(svc.Name(), inst.URL())
	return inst, nil
}

// Forget drops the balancer state of a service.
func (lb *LoadBalancer) Forget(service string) {
	lb.balancers.Delete(service)
}

func (lb *LoadBalancer) balancerFor(svc *Service) Balancer {
	strategy := svc.cfg.LoadBalancer
	if strategy == "" {
		strategy = lb.strategy
	}

	value, ok := lb.balancers.Load(svc.Name())
	if ok && value.(*serviceBalancer).strategy == strategy {
		return value.(*serviceBalancer).balancer
	}

	sb := &serviceBalancer{strategy: strategy, balancer: NewBalancer(strategy)}
	if ok {
		// the service switched strategy
		lb.balancers.Store(svc.Name(), sb)
		return sb.balancer
	}
	actual, _ := lb.balancers.LoadOrStore(svc.Name(), sb)
	return actual.(*serviceBalancer).balancer
}

// secureRandomInt returns a cryptographically secure random int in [0, n).
func secureRandomInt(n int) int {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(binary.LittleEndian.Uint64(b[:]) % uint64(n)) //nolint:gosec // bounds checked
}
