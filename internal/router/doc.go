// Package router matches inbound requests against the route table and
// resolves the backend URL of each call.
//
// Route patterns are literal text with {name} placeholders. Among the
// active routes whose pattern and method match, the one with the highest
// priority wins. Lookups are cached per (method, path) in a bounded
// cache that is invalidated wholesale whenever the configuration is
// reloaded.
//
// Resolving a call consults the circuit breaker of the target service,
// then the load balancer:
//
//	match, err := r.FindRoute("/users/42", http.MethodGet)
//	target, err := r.Resolve(match, "/users/42", clientIP)
//	// ... call target.URL ...
//	r.RecordOutcome(target, resp.StatusCode, err)
package router
