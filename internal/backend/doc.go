// Package backend holds the runtime view of registered services.
//
// A Registry keeps one Service per configured backend together with its
// Instances. Health flags and connection counters live on these runtime
// objects and survive configuration reloads for instances whose address
// did not change.
//
// # Load Balancing
//
// LoadBalancer picks an instance among the healthy instances with a
// positive weight:
//
//	lb := backend.NewLoadBalancer(config.StrategyWeightedRandom)
//	inst, err := lb.Select(svc, clientIP)
//
// When no instance qualifies, a healthy service falls back to its base URL.
//
// # Health Checking
//
// A Monitor checks one service and each of its instances every interval.
// The Supervisor runs one Monitor per service with health checks enabled
// and restarts monitors whose configuration changed:
//
//	sup := backend.NewSupervisor(registry)
//	sup.Sync(ctx)
//	defer sup.Stop()
package backend
