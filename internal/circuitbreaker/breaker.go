// Package circuitbreaker stops calling an external collaborator that keeps failing,
// so requests go straight to their fallback until the collaborator recovers.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned while the breaker is refusing calls
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, calls fail fast
	StateHalfOpen              // Testing if the collaborator has recovered
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
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures when the breaker trips and recovers
type Options struct {
	// Consecutive failures that open the circuit
	FailureThreshold int

	// How long the circuit stays open before a trial call is allowed
	CooldownPeriod time.Duration

	// Consecutive successes in half-open state needed to close the circuit
	SuccessThreshold int
}

// DefaultOptions returns sensible defaults for a network collaborator
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		CooldownPeriod:   30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker guards a single named collaborator
type CircuitBreaker struct {
	name string
	opts Options

	mu           sync.RWMutex
	state        State
	failures     int
	successCount int
	lastTrip     time.Time

	// Set while the single half-open trial call is outstanding
	trialInFlight bool

	now            func() time.Time
	onTripCallback func(name, reason string)
}

// New creates a new CircuitBreaker for the named collaborator
func New(name string, opts Options) *CircuitBreaker {
	def := DefaultOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.CooldownPeriod <= 0 {
		opts.CooldownPeriod = def.CooldownPeriod
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = def.SuccessThreshold
	}
	return &CircuitBreaker{
		name:  name,
		opts:  opts,
		state: StateClosed,
		now:   time.Now,
	}
}

// WithClock overrides the time source and returns the circuit breaker
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(name, reason string)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Name returns the guarded collaborator's name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed. An open circuit whose cooldown has
// elapsed moves to half-open and admits one trial call; further callers are
// rejected until that trial is recorded.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.trialInFlight {
			return fmt.Errorf("%s: trial in flight: %w", cb.name, ErrOpen)
		}
		cb.trialInFlight = true
		return nil
	}

	if cb.now().Sub(cb.lastTrip) >= cb.opts.CooldownPeriod {
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.trialInFlight = true
		logrus.WithField("collaborator", cb.name).Info("Circuit breaker half-open: testing recovery")
		return nil
	}
	return fmt.Errorf("%s: %w", cb.name, ErrOpen)
}

// RecordSuccess registers a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trialInFlight = false
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.opts.SuccessThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.WithField("collaborator", cb.name).Info("Circuit breaker closed: collaborator has recovered")
		}
	}
}

// RecordFailure registers a failed call and trips the circuit when needed
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false
	switch cb.state {
	case StateHalfOpen:
		cb.trip(fmt.Sprintf("trial call failed: %v", err))
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.opts.FailureThreshold {
			cb.trip(fmt.Sprintf("%d consecutive failures, last: %v", cb.failures, err))
		}
	}
}

// Execute runs fn if the circuit allows it and records the outcome. Errors
// marked with Neutral are returned unwrapped without being recorded.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn()
	var neutral neutralError
	switch {
	case err == nil:
		cb.RecordSuccess()
	case errors.As(err, &neutral):
		cb.release()
		return neutral.err
	default:
		cb.RecordFailure(err)
	}
	return err
}

// neutralError carries an outcome that says nothing about collaborator health
type neutralError struct {
	err error
}

func (e neutralError) Error() string { return e.err.Error() }

func (e neutralError) Unwrap() error { return e.err }

// Neutral marks err so that Execute neither counts it as a failure nor as a success
func Neutral(err error) error {
	if err == nil {
		return nil
	}
	return neutralError{err: err}
}

// release frees the half-open trial slot without changing state
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	cb.trialInFlight = false
	logrus.WithField("collaborator", cb.name).Info("Circuit breaker manually reset to closed state")
}

// trip sets the circuit breaker to open state; callers hold the lock
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.failures = 0
	cb.successCount = 0
	cb.trialInFlight = false
	cb.lastTrip = cb.now()
	logrus.WithField("collaborator", cb.name).Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(cb.name, reason)
	}
}
