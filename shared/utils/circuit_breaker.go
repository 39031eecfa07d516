package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of the circuit breaker
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

var (
	// ErrCircuitOpen is returned when circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial request is already in flight
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// BreakerSettings configures a CircuitBreaker
type BreakerSettings struct {
	Name         string
	MaxFailures  int
	ResetTimeout time.Duration
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called with the lock released
	OnStateChange func(name string, from, to CircuitState)
}

// CircuitBreaker guards calls to one upstream (a service, the object store)
type CircuitBreaker struct {
	settings BreakerSettings

	mutex         sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	trialInFlight bool
	now           func() time.Time
}

// NewCircuitBreaker creates a named breaker that opens after maxFailures
// consecutive failures and allows a trial request after resetTimeout
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return NewCircuitBreakerWithSettings(BreakerSettings{
		Name:         name,
		MaxFailures:  maxFailures,
		ResetTimeout: resetTimeout,
	})
}

// NewCircuitBreakerWithSettings creates a breaker from explicit settings
func NewCircuitBreakerWithSettings(s BreakerSettings) *CircuitBreaker {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{settings: s, state: StateClosed, now: time.Now}
}

// Name returns the breaker's name
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// Call executes fn with circuit breaker protection
func (cb *CircuitBreaker) Call(fn func() error) error {
	return cb.Execute(context.Background(), func(context.Context) error { return fn() })
}

// Execute runs fn unless the circuit is open. A cancelled context is not
// counted as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.before()
	if err != nil {
		return err
	}

	err = fn(ctx)
	failed := err != nil && ctx.Err() == nil && cb.settings.IsFailure(err)
	cb.after(trial, failed)
	return err
}

func (cb *CircuitBreaker) before() (trial bool, err error) {
	cb.mutex.Lock()
	var change *[2]CircuitState
	defer func() {
		cb.mutex.Unlock()
		cb.notify(change)
	}()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.settings.ResetTimeout {
			return false, ErrCircuitOpen
		}
		change = &[2]CircuitState{cb.state, StateHalfOpen}
		cb.state = StateHalfOpen
		cb.trialInFlight = true
		return true, nil
	case StateHalfOpen:
		if cb.trialInFlight {
			return false, ErrTooManyRequests
		}
		cb.trialInFlight = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) after(trial, failed bool) {
	cb.mutex.Lock()
	var change *[2]CircuitState
	defer func() {
		cb.mutex.Unlock()
		cb.notify(change)
	}()

	if trial {
		cb.trialInFlight = false
	}

	if !failed {
		if cb.state == StateHalfOpen {
			change = &[2]CircuitState{cb.state, StateClosed}
			cb.state = StateClosed
		}
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.settings.MaxFailures {
		if cb.state != StateOpen {
			change = &[2]CircuitState{cb.state, StateOpen}
		}
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) notify(change *[2]CircuitState) {
	if change != nil && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, change[0], change[1])
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.trialInFlight = false
}
