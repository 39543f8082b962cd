package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")
)

// CircuitBreakerError is returned when the breaker rejects a call
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	if e.State == StateOpen {
		return fmt.Sprintf("circuit breaker %s open: call blocked (failures=%d/%d, retry at %s)",
			e.Name, e.Failures, e.FailureThreshold, e.NextRetry.Format(time.RFC3339))
	}
	return fmt.Sprintf("circuit breaker %s %s: call blocked", e.Name, e.State)
}

func (e *CircuitBreakerError) Unwrap() error {
	if e.State == StateOpen {
		return ErrCircuitOpen
	}
	return ErrCircuitHalfOpenLimit
}

// IsRejection reports whether err came from the breaker rather than the
// guarded call
func IsRejection(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
