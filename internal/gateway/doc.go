// Package gateway provides the HTTP boundary of the service gateway.
//
// The Gateway owns the gin engine, the inbound listener and the request
// pipeline placed in front of the router, the forwarder and the
// aggregator.
//
// # Request pipeline
//
// Every request under the configured prefix passes through:
//
//   - maintenance mode, answering 503 with the configured message
//   - aggregation matching, which takes precedence over routes
//   - route matching, answering 404 when nothing matches
//   - the auth_required check, answering 401 for anonymous callers
//   - the forwarder, which retries, transforms and records breaker outcomes
//
// # Admin endpoints
//
// Outside the prefix the gateway serves /health, /ready, /live, /metrics,
// /admin/circuit-breakers, /admin/services and POST /admin/cache/invalidate.
//
// # Usage
//
//	gw, err := gateway.New(cfg, rt, fwd, agg, gateway.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Stop(ctx)
//
// # Configuration Reload
//
// Reload validates a new configuration, swaps the records of the memory
// repository and rebuilds the routing table and health monitors:
//
//	if err := gw.Reload(ctx, newConfig); err != nil {
//	    logger.Error("reload failed", observability.Error(err))
//	}
package gateway
