package util

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors, one per failure class of the gateway.
var (
	ErrNotFound           = errors.New("route not found")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrTransformation     = errors.New("transformation error")
	ErrAggregation        = errors.New("aggregation error")
	ErrAuthRequired       = errors.New("authentication required")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrTimeout            = errors.New("timeout")
)

// HTTPError is implemented by errors that map onto an HTTP response.
// Kind is the stable machine-readable "error" field; PublicMessage must be
// safe to show to clients.
type HTTPError interface {
	error
	StatusCode() int
	Kind() string
	PublicMessage() string
}

// RouteNotFoundError is returned when no active route matches a request.
type RouteNotFoundError struct {
	Method string
	Path   string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route found for %s %s", e.Method, e.Path)
}

func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

func (e *RouteNotFoundError) StatusCode() int       { return http.StatusNotFound }
func (e *RouteNotFoundError) Kind() string          { return "route not found" }
func (e *RouteNotFoundError) PublicMessage() string { return e.Error() }

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, path string) *RouteNotFoundError {
	return &RouteNotFoundError{Method: method, Path: path}
}

// ServiceUnavailableError is returned when a service has no usable instance
// or its backend kept failing after retries.
type ServiceUnavailableError struct {
	Service string
	Reason  string
	Cause   error
}

func (e *ServiceUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("service %s unavailable: %s: %v", e.Service, e.Reason, e.Cause)
	}
	return fmt.Sprintf("service %s unavailable: %s", e.Service, e.Reason)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Cause }

func (e *ServiceUnavailableError) Is(target error) bool {
	if target == ErrServiceUnavailable {
		return true
	}
	_, ok := target.(*ServiceUnavailableError)
	return ok
}

func (e *ServiceUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }
func (e *ServiceUnavailableError) Kind() string    { return "service unavailable" }

func (e *ServiceUnavailableError) PublicMessage() string {
	return fmt.Sprintf("service %s is unavailable", e.Service)
}

// NewServiceUnavailableError creates a new ServiceUnavailableError.
func NewServiceUnavailableError(service, reason string, cause error) *ServiceUnavailableError {
	return &ServiceUnavailableError{Service: service, Reason: reason, Cause: cause}
}

// CircuitOpenError is returned when the breaker of a service rejects a call.
type CircuitOpenError struct {
	Name  string
	State string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

func (e *CircuitOpenError) StatusCode() int { return http.StatusServiceUnavailable }
func (e *CircuitOpenError) Kind() string    { return "circuit breaker open" }

func (e *CircuitOpenError) PublicMessage() string {
	return fmt.Sprintf("circuit breaker open for service %s", e.Name)
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(name, state string) *CircuitOpenError {
	return &CircuitOpenError{Name: name, State: state}
}

// TransformationError wraps a failure of a payload transformer.
type TransformationError struct {
	Transformer string
	Stage       string
	Cause       error
}

func (e *TransformationError) Error() string {
	msg := fmt.Sprintf("%s transformation failed", e.Transformer)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s %s", e.Stage, msg)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransformationError) Unwrap() error { return e.Cause }

func (e *TransformationError) Is(target error) bool {
	if target == ErrTransformation {
		return true
	}
	_, ok := target.(*TransformationError)
	return ok
}

func (e *TransformationError) StatusCode() int       { return http.StatusInternalServerError }
func (e *TransformationError) Kind() string          { return "transformation error" }
func (e *TransformationError) PublicMessage() string { return "payload transformation failed" }

// NewTransformationError creates a new TransformationError for the given
// transformer kind.
func NewTransformationError(kind string, cause error) *TransformationError {
	return &TransformationError{Transformer: kind, Cause: cause}
}

// AggregationError is returned when an aggregation cannot be executed at all.
type AggregationError struct {
	Aggregation string
	Message     string
	Cause       error
}

func (e *AggregationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("aggregation %s: %s: %v", e.Aggregation, e.Message, e.Cause)
	}
	return fmt.Sprintf("aggregation %s: %s", e.Aggregation, e.Message)
}

func (e *AggregationError) Unwrap() error { return e.Cause }

func (e *AggregationError) Is(target error) bool {
	if target == ErrAggregation {
		return true
	}
	_, ok := target.(*AggregationError)
	return ok
}

func (e *AggregationError) StatusCode() int       { return http.StatusInternalServerError }
func (e *AggregationError) Kind() string          { return "aggregation error" }
func (e *AggregationError) PublicMessage() string { return e.Message }

// NewAggregationError creates a new AggregationError.
func NewAggregationError(aggregation, message string, cause error) *AggregationError {
	return &AggregationError{Aggregation: aggregation, Message: message, Cause: cause}
}

// AuthenticationRequiredError is returned for unauthenticated calls to
// protected routes.
type AuthenticationRequiredError struct {
	Route string
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("authentication required for route %s", e.Route)
}

func (e *AuthenticationRequiredError) Is(target error) bool {
	if target == ErrAuthRequired {
		return true
	}
	_, ok := target.(*AuthenticationRequiredError)
	return ok
}

func (e *AuthenticationRequiredError) StatusCode() int       { return http.StatusUnauthorized }
func (e *AuthenticationRequiredError) Kind() string          { return "authentication required" }
func (e *AuthenticationRequiredError) PublicMessage() string { return "valid credentials are required" }

// NewAuthenticationRequiredError creates a new AuthenticationRequiredError.
func NewAuthenticationRequiredError(route string) *AuthenticationRequiredError {
	return &AuthenticationRequiredError{Route: route}
}

// RateLimitError represents a rate limit exceeded error.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d, retry after: %v)", e.Limit, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

func (e *RateLimitError) StatusCode() int       { return http.StatusTooManyRequests }
func (e *RateLimitError) Kind() string          { return "rate limit exceeded" }
func (e *RateLimitError) PublicMessage() string { return "too many requests" }

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(limit int, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Limit: limit, RetryAfter: retryAfter}
}

// ConfigError represents an invalid gateway configuration.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

func (e *ConfigError) StatusCode() int       { return http.StatusInternalServerError }
func (e *ConfigError) Kind() string          { return "invalid configuration" }
func (e *ConfigError) PublicMessage() string { return "gateway is misconfigured" }

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// StatusCode maps err onto an HTTP status. Errors outside the taxonomy
// are internal server errors.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	if errors.Is(err, ErrTimeout) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether a backend call that failed with err may be
// attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.As(err, new(*ServerError))
}
