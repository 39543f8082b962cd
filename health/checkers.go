package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/mmate-gateway/internal/reliability"
	"github.com/glimte/mmate-gateway/routing"
)

// ConnectionState is what the RabbitMQ checker needs from a connection
// manager
type ConnectionState interface {
	IsConnected() bool
	IsReconnecting() bool
	URL() string
}

// ChannelState is what the RabbitMQ checker needs from the shared channel
type ChannelState interface {
	IsOpen() bool
	ConfirmMode() bool
}

// RabbitMQChecker checks the broker connection and the publishing channel
type RabbitMQChecker struct {
	conn    ConnectionState
	channel ChannelState
}

// NewRabbitMQChecker creates a new RabbitMQ health checker. channel may be
// nil.
func NewRabbitMQChecker(conn ConnectionState, channel ChannelState) *RabbitMQChecker {
	return &RabbitMQChecker{conn: conn, channel: channel}
}

func (c *RabbitMQChecker) Name() string {
	return "rabbitmq"
}

func (c *RabbitMQChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"url":          c.conn.URL(),
			"connected":    c.conn.IsConnected(),
			"reconnecting": c.conn.IsReconnecting(),
		},
	}

	switch {
	case !c.conn.IsConnected() && c.conn.IsReconnecting():
		result.Status = StatusUnhealthy
		result.Message = "Reconnecting to broker"
	case !c.conn.IsConnected():
		result.Status = StatusUnhealthy
		result.Message = "Connection is closed"
	case c.channel != nil && !c.channel.IsOpen():
		result.Status = StatusDegraded
		result.Message = "Publishing channel is not open"
	default:
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	}

	if c.channel != nil {
		result.Details["channel_open"] = c.channel.IsOpen()
		result.Details["confirm_mode"] = c.channel.ConfirmMode()
	}

	result.Duration = time.Since(start)
	return result
}

// DestinationVerifier reports whether a destination exists on the broker
type DestinationVerifier interface {
	Verify(ctx context.Context, destination routing.Destination) error
}

// DestinationsChecker checks that every routed destination exists. The
// broker drops a message published to a missing queue without a publish
// error.
type DestinationsChecker struct {
	verifier     DestinationVerifier
	destinations []routing.Destination
}

// NewDestinationsChecker creates a checker over destinations
func NewDestinationsChecker(verifier DestinationVerifier, destinations []routing.Destination) *DestinationsChecker {
	return &DestinationsChecker{verifier: verifier, destinations: destinations}
}

func (c *DestinationsChecker) Name() string {
	return "destinations"
}

func (c *DestinationsChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}, len(c.destinations)),
	}

	var missing int
	var lastErr error
	for _, destination := range c.destinations {
		if err := c.verifier.Verify(ctx, destination); err != nil {
			missing++
			lastErr = err
			result.Details[destination.String()] = err.Error()
			continue
		}
		result.Details[destination.String()] = "ready"
	}

	switch {
	case missing == 0:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("All %d destinations are ready", len(c.destinations))
	case missing == len(c.destinations):
		result.Status = StatusUnhealthy
		result.Message = "No destination is ready"
		result.Error = lastErr.Error()
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d of %d destinations are not ready", missing, len(c.destinations))
	}

	result.Duration = time.Since(start)
	return result
}

// CircuitBreakerChecker reports an open publish circuit as degraded
type CircuitBreakerChecker struct {
	breaker *reliability.CircuitBreaker
}

// NewCircuitBreakerChecker creates a checker for breaker
func NewCircuitBreakerChecker(breaker *reliability.CircuitBreaker) *CircuitBreakerChecker {
	return &CircuitBreakerChecker{breaker: breaker}
}

func (c *CircuitBreakerChecker) Name() string {
	return "circuit_" + c.breaker.Name()
}

func (c *CircuitBreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	m := c.breaker.GetMetrics()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"state":            m.State.String(),
			"current_failures": m.CurrentFailures,
			"total_failures":   m.TotalFailures,
			"total_rejected":   m.TotalRejected,
		},
	}

	switch m.State {
	case reliability.StateClosed:
		result.Status = StatusHealthy
		result.Message = "Circuit is closed"
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Circuit is %s", m.State)
		result.Details["last_failure"] = m.LastFailureTime
	}

	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker reports degraded or unhealthy when the goroutine count
// crosses a threshold.
type GoroutineChecker struct {
	warning  int
	critical int
}

// NewGoroutineChecker creates a new goroutine checker
func NewGoroutineChecker(warning, critical int) *GoroutineChecker {
	return &GoroutineChecker{warning: warning, critical: critical}
}

func (c *GoroutineChecker) Name() string {
	return "runtime"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warning:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
