// Package circuitbreaker tracks backend failures per service and rejects
// calls to a service that keeps failing until its recovery timeout passes.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
	"github.com/vyrodovalexey/svcgw/internal/util"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates a single trial request is testing the backend.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the thresholds of one breaker.
type Config struct {
	// Threshold is the number of failures that opens the circuit.
	Threshold int

	// RecoveryTimeout is how long the circuit stays open after the last failure.
	RecoveryTimeout time.Duration
}

// ConfigFromService converts the service circuit breaker section.
func ConfigFromService(c config.CircuitBreakerConfig) Config {
	return Config{
		Threshold:       c.EffectiveThreshold(),
		RecoveryTimeout: c.EffectiveRecoveryTimeout(),
	}
}

// Clock returns the current time.
type Clock func() time.Time

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(clock Clock) Option {
	return func(cb *CircuitBreaker) {
		cb.now = clock
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger observability.Logger) Option {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// CircuitBreaker is the failure state machine of one service.
//
// While half-open exactly one trial call is admitted. Other callers are
// rejected as if the circuit were open until the trial reports its outcome.
// A trial that never reports is abandoned after another recovery timeout so
// the breaker cannot get stuck.
type CircuitBreaker struct {
	name   string
	now    Clock
	logger observability.Logger

	mu            sync.Mutex
	config        Config
	state         State
	failureCount  int
	lastFailure   time.Time
	trialInFlight bool
	trialStarted  time.Time
}

// New creates a closed circuit breaker.
func New(name string, cfg Config, opts ...Option) *CircuitBreaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = config.DefaultCBThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = config.DefaultCBRecoveryTimeout
	}

	cb := &CircuitBreaker{
		name:   name,
		config: cfg,
		now:    time.Now,
		logger: observability.NopLogger(),
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	recordState(name, StateClosed)
	return cb
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CanAttempt reports whether a call may proceed. It moves an open circuit
// whose recovery timeout has elapsed to half-open and admits the caller as
// the trial.
func (cb *CircuitBreaker) CanAttempt() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	allowed := cb.admit(cb.now())
	recordRequest(cb.name, allowed)
	return allowed
}

func (cb *CircuitBreaker) admit(now time.Time) bool {
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Before(cb.lastFailure.Add(cb.config.RecoveryTimeout)) {
			return false
		}
		cb.transitionTo(StateHalfOpen)
		cb.trialInFlight = true
		cb.trialStarted = now
		return true
	case StateHalfOpen:
		if cb.trialInFlight && now.Before(cb.trialStarted.Add(cb.config.RecoveryTimeout)) {
			return false
		}
		cb.trialInFlight = true
		cb.trialStarted = now
		return true
	default:
		return false
	}
}

// Allow returns a CircuitOpenError when CanAttempt is false.
func (cb *CircuitBreaker) Allow() error {
	if cb.CanAttempt() {
		return nil
	}
	return util.NewCircuitOpenError(cb.name, cb.State().String())
}

// RecordSuccess resets the failure count and closes a half-open circuit.
// A late success reported while open is ignored.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	recordSuccess(cb.name)
	switch cb.state {
	case StateHalfOpen:
		cb.failureCount = 0
		cb.trialInFlight = false
		cb.transitionTo(StateClosed)
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure counts a failed call. The circuit opens once the count
// reaches the threshold, and a failure of the half-open trial reopens it
// immediately.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()
	recordFailure(cb.name)

	switch {
	case cb.state == StateHalfOpen:
		cb.trialInFlight = false
		cb.transitionTo(StateOpen)
	case cb.state == StateClosed && cb.failureCount >= cb.config.Threshold:
		cb.transitionTo(StateOpen)
	}

	if err != nil {
		cb.logger.Debug("circuit breaker recorded failure",
			observability.String("name", cb.name),
			observability.Int("failure_count", cb.failureCount),
			observability.Error(err),
		)
	}
}

// Record reports the outcome of a call. A nil error is a success.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil {
		cb.RecordFailure(err)
		return
	}
	cb.RecordSuccess()
}

// Abandon reports that an admitted call ended without an outcome, for
// example because the caller went away. A half-open breaker may then
// admit another trial.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the failures counted since the last success.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Reconfigure replaces the thresholds while keeping the current state.
func (cb *CircuitBreaker) Reconfigure(cfg Config) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cfg.Threshold >= 1 {
		cb.config.Threshold = cfg.Threshold
	}
	if cfg.RecoveryTimeout > 0 {
		cb.config.RecoveryTimeout = cfg.RecoveryTimeout
	}
}

// Reset closes the circuit and clears every counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.lastFailure = time.Time{}
	cb.trialInFlight = false
	cb.transitionTo(StateClosed)
}

// Snapshot is the observable state of a breaker.
type Snapshot struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	LastFailureTime string `json:"last_failure_time,omitempty"`
	CanAttempt      bool   `json:"can_attempt"`
}

// Snapshot reports the breaker state without changing it. CanAttempt is
// what a call arriving now would be told.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	s := Snapshot{
		Name:         cb.name,
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailureTime = cb.lastFailure.UTC().Format(time.RFC3339Nano)
	}
	switch cb.state {
	case StateClosed:
		s.CanAttempt = true
	case StateOpen:
		s.CanAttempt = !now.Before(cb.lastFailure.Add(cb.config.RecoveryTimeout))
	case StateHalfOpen:
		s.CanAttempt = !cb.trialInFlight || !now.Before(cb.trialStarted.Add(cb.config.RecoveryTimeout))
	}
	return s
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState

	recordState(cb.name, newState)
	recordStateChange(cb.name, oldState, newState)

	fields := []observability.Field{
		observability.String("name", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
		observability.Int("failure_count", cb.failureCount),
	}
	if newState == StateOpen {
		cb.logger.Warn("circuit breaker state changed", fields...)
		return
	}
	cb.logger.Info("circuit breaker state changed", fields...)
}
