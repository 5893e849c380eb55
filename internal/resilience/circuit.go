package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitConfig configures a circuit breaker.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before allowing one
	// half-open trial.
	OpenTimeout time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to string)
}

// DefaultCircuitConfig returns the default breaker configuration.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitBreaker gates provider calls: closed until FailureThreshold
// consecutive failures, then open for OpenTimeout, then a single half-open
// trial decides between closed and open again.
type CircuitBreaker struct {
	config CircuitConfig
	clock  clockwork.Clock

	mu              sync.Mutex
	state           string
	failures        int
	trialInFlight   bool
	lastStateChange time.Time
}

// NewCircuitBreaker creates a breaker. A nil clock uses the system clock.
func NewCircuitBreaker(config CircuitConfig, clock clockwork.Clock) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	return &CircuitBreaker{
		config:          config,
		clock:           clock,
		state:           CircuitClosed,
		lastStateChange: clock.Now(),
	}
}

// Allow reports whether a call may proceed. In half-open state only one trial
// call is admitted; concurrent callers are rejected until it completes.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.clock.Now().Sub(cb.lastStateChange) >= cb.config.OpenTimeout {
			cb.transitionTo(CircuitHalfOpen)
			cb.trialInFlight = true
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.trialInFlight = false
		cb.transitionTo(CircuitClosed)
	}
}

// RecordFailure reports a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.trialInFlight = false
		cb.transitionTo(CircuitOpen)
	}
}

// transitionTo changes state. Caller holds the lock.
func (cb *CircuitBreaker) transitionTo(newState string) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.clock.Now()
	cb.failures = 0

	if cb.config.OnStateChange != nil && oldState != newState {
		// Called asynchronously so listeners cannot block the caller.
		go cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.trialInFlight = false
	cb.lastStateChange = cb.clock.Now()
}
