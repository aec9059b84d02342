// Package resilience provides the circuit breaker, retry and call-pacing policy shared by
// every resolver that talks to an external service.
package resilience

import (
	"github.com/rotisserie/eris"
)

// CircuitState is the state of a batch breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects every call until the batch ends.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// DefaultFailureThreshold is the number of consecutive failures that opens a breaker.
const DefaultFailureThreshold = 10

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls a batch breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: DefaultFailureThreshold.
	FailureThreshold int

	// OnStateChange is called once, when the circuit opens.
	OnStateChange func(from, to CircuitState)
}

// CircuitBreaker counts consecutive failures of one service during a batch.
// Once open it stays open; a new run starts with a new breaker. It is used
// from one goroutine since the enrichment loop is sequential.
type CircuitBreaker struct {
	cfg      CircuitBreakerConfig
	state    CircuitState
	failures int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	return &CircuitBreaker{cfg: cfg}
}

// Allow returns ErrCircuitOpen once the breaker has opened.
func (cb *CircuitBreaker) Allow() error {
	if cb.state == CircuitOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Record feeds the outcome of one service call into the breaker. A nil err
// resets the failure count.
func (cb *CircuitBreaker) Record(err error) {
	if cb.state == CircuitOpen {
		return
	}
	if err == nil {
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(CircuitClosed, CircuitOpen)
		}
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	return cb.state
}

// Counters returns the consecutive failure count and state for logging.
func (cb *CircuitBreaker) Counters() (consecutiveFailures int, state CircuitState) {
	return cb.failures, cb.state
}
