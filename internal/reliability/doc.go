// Package reliability guards calls to the broker with a circuit breaker.
//
// After a run of failed publishes the breaker opens and further calls fail
// immediately with a *CircuitBreakerError until the cool-down expires. A
// limited number of trial calls then decide whether it closes again.
//
//	cb := reliability.NewCircuitBreaker(
//	    reliability.WithFailureThreshold(5),
//	    reliability.WithTimeout(30*time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return publish()
//	})
package reliability
