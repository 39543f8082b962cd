package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// StateChangeListener receives circuit breaker state change notifications
type StateChangeListener interface {
	OnStateChange(from, to State, reason string)
}

// StateChangeFunc adapts a function to StateChangeListener
type StateChangeFunc func(from, to State, reason string)

func (f StateChangeFunc) OnStateChange(from, to State, reason string) {
	f(from, to, reason)
}

// CircuitBreaker fails calls fast after repeated failures
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	halfOpenInUse   int
	lastFailureTime time.Time
	totalRequests   int64
	totalFailures   int64
	totalRejected   int64

	failureThreshold int
	successThreshold int
	timeout          time.Duration
	halfOpenRequests int
	name             string
	isFailure        func(error) bool
	now              func() time.Time

	listeners []StateChangeListener
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the circuit
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithTimeout sets how long the circuit stays open
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.timeout = timeout
	}
}

// WithHalfOpenRequests caps concurrent trial calls while half-open
func WithHalfOpenRequests(requests int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithFailurePredicate decides which errors count against the circuit.
// Errors it rejects are passed through without touching the counters.
func WithFailurePredicate(isFailure func(error) bool) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.isFailure = isFailure
	}
}

// WithStateChangeListener registers a listener at construction
func WithStateChangeListener(listener StateChangeListener) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.listeners = append(cb.listeners, listener)
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 1,
		timeout:          30 * time.Second,
		halfOpenRequests: 1,
		name:             "default",
		isFailure:        func(err error) bool { return err != nil },
		now:              time.Now,
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the circuit rejects the call
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	generation, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.record(generation, err)
	return err
}

// GetState returns the current state, moving an expired open circuit to
// half-open
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return cb.state
}

// Reset closes the circuit and clears the counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionLocked(StateClosed, "reset")
	}
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenInUse = 0
}

// AddListener adds a state change listener
func (cb *CircuitBreaker) AddListener(listener StateChangeListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, listener)
}

// admit returns the state the call was admitted under
func (cb *CircuitBreaker) admit() (State, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.expireLocked()

	switch cb.state {
	case StateOpen:
		cb.totalRejected++
		return cb.state, cb.rejectionLocked(cb.lastFailureTime.Add(cb.timeout))
	case StateHalfOpen:
		if cb.halfOpenInUse >= cb.halfOpenRequests {
			cb.totalRejected++
			return cb.state, cb.rejectionLocked(cb.now())
		}
		cb.halfOpenInUse++
	}
	return cb.state, nil
}

func (cb *CircuitBreaker) record(admittedIn State, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if admittedIn == StateHalfOpen && cb.halfOpenInUse > 0 {
		cb.halfOpenInUse--
	}

	if err != nil && !cb.isFailure(err) {
		return
	}

	if err != nil {
		cb.failures++
		cb.totalFailures++
		cb.lastFailureTime = cb.now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.transitionLocked(StateOpen,
					fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold))
			}
		case StateHalfOpen:
			cb.transitionLocked(StateOpen, "failure in half-open state")
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transitionLocked(StateClosed,
				fmt.Sprintf("success threshold reached (%d/%d)", cb.successes, cb.successThreshold))
		}
	}
}

func (cb *CircuitBreaker) expireLocked() {
	if cb.state == StateOpen && !cb.now().Before(cb.lastFailureTime.Add(cb.timeout)) {
		cb.transitionLocked(StateHalfOpen, "timeout expired")
	}
}

func (cb *CircuitBreaker) transitionLocked(to State, reason string) {
	from := cb.state
	cb.state = to
	cb.successes = 0
	cb.halfOpenInUse = 0
	if to == StateClosed {
		cb.failures = 0
	}

	listeners := make([]StateChangeListener, len(cb.listeners))
	copy(listeners, cb.listeners)
	for _, listener := range listeners {
		go listener.OnStateChange(from, to, reason)
	}
}

func (cb *CircuitBreaker) rejectionLocked(nextRetry time.Time) error {
	return &CircuitBreakerError{
		Name:             cb.name,
		State:            cb.state,
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		LastFailure:      cb.lastFailureTime,
		NextRetry:        nextRetry,
	}
}

// GetMetrics returns circuit breaker metrics
func (cb *CircuitBreaker) GetMetrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()

	return CircuitBreakerMetrics{
		Name:            cb.name,
		State:           cb.state,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitBreakerMetrics represents circuit breaker metrics
type CircuitBreakerMetrics struct {
	Name            string
	State           State
	TotalRequests   int64
	TotalFailures   int64
	TotalRejected   int64
	CurrentFailures int
	LastFailureTime time.Time
}
