// Package proxy forwards gateway requests to backend services.
//
// A Forwarder takes a matched route, resolves a target instance through
// the router (load balancer and circuit breaker), applies the route's
// request transform and header rules, and sends the call. Calls that fail
// with a network error, 429 or a 5xx status are retried with exponential
// backoff up to the service's max_retries attempts. The response is
// transformed, stripped of hop-by-hop headers and written back.
//
// # Usage
//
//	fwd := proxy.New(rt,
//	    proxy.WithLogger(logger),
//	    proxy.WithHTTPClient(pool.Client()),
//	    proxy.WithTransformer(transformer),
//	)
//	if err := fwd.Forward(w, r, match, path); err != nil {
//	    util.WriteError(w, err)
//	}
//
// Call sends a single request that is not bound to a route; the
// aggregator uses it for every aggregation call.
package proxy
