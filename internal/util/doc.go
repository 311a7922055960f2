// Package util provides the gateway error taxonomy and shared HTTP and
// context helpers.
//
// # Error Conventions
//
//   - Sentinel errors (errors.New) name each failure class and are checked
//     with errors.Is, for example ErrCircuitOpen.
//   - Typed errors carry context (service, route, cause). Each implements
//     Error, Is, Unwrap where it wraps, and HTTPError so the boundary can
//     map it onto a status code.
//   - fmt.Errorf with %w adds context without introducing a new type.
//
// Status mapping:
//
//	RouteNotFoundError           404
//	ServiceUnavailableError      503
//	CircuitOpenError             503
//	TransformationError          500
//	AggregationError             500
//	AuthenticationRequiredError  401
//	RateLimitError               429
//	ConfigError                  500
//
// Any other error is written as a generic 500 with no internal detail.
package util
