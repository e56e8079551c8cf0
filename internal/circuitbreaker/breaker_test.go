package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var errUpstream = errors.New("upstream down")

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return New("alchemy", Options{
		FailureThreshold: 3,
		CooldownPeriod:   time.Minute,
		SuccessThreshold: 2,
	}).WithClock(clock.Now)
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := New("gemini", Options{})
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit breaker should start closed")
	assert.NoError(t, cb.Allow())
	assert.Equal(t, "gemini", cb.Name())
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)

	cb.RecordFailure(errUpstream)
	cb.RecordFailure(errUpstream)
	assert.Equal(t, StateClosed, cb.GetState(), "Two failures stay below the threshold")

	cb.RecordSuccess()
	cb.RecordFailure(errUpstream)
	cb.RecordFailure(errUpstream)
	assert.Equal(t, StateClosed, cb.GetState(), "A success resets the failure streak")

	cb.RecordFailure(errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errUpstream)
	}
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrOpen, "Cooldown has not elapsed")

	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.GetState())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errUpstream)
	}
	clock.Advance(2 * time.Minute)
	require.NoError(t, cb.Allow())

	cb.RecordFailure(errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrOpen)
}

func TestCircuitBreaker_Execute(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)

	var calls int32
	failing := func() error {
		atomic.AddInt32(&calls, 1)
		return errUpstream
	}

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(failing), errUpstream)
	}
	assert.ErrorIs(t, cb.Execute(failing), ErrOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "Open circuit must not invoke the call")
}

func TestCircuitBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errUpstream)
	}
	clock.Advance(2 * time.Minute)

	var (
		admitted int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.Allow() == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&admitted), "Only one trial call while half-open")
	assert.Equal(t, StateHalfOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrOpen)

	cb.RecordSuccess()
	require.NoError(t, cb.Allow(), "A recorded trial frees the slot for the next one")
	assert.ErrorIs(t, cb.Allow(), ErrOpen)

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Allow())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_ExecuteNeutral(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)

	errNoData := errors.New("no data for chain")
	for i := 0; i < 5; i++ {
		err := cb.Execute(func() error { return Neutral(errNoData) })
		assert.Equal(t, errNoData, err, "Neutral errors are returned unwrapped")
	}
	assert.Equal(t, StateClosed, cb.GetState(), "Neutral errors never trip the circuit")

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errUpstream })
	}
	require.Equal(t, StateOpen, cb.GetState())
	clock.Advance(2 * time.Minute)

	assert.Equal(t, errNoData, cb.Execute(func() error { return Neutral(errNoData) }))
	assert.Equal(t, StateHalfOpen, cb.GetState(), "A neutral trial leaves the circuit half-open")
	assert.NoError(t, cb.Allow(), "A neutral trial releases the slot")

	assert.Nil(t, Neutral(nil))
}

func TestCircuitBreaker_TripCallbackAndReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tripped := make(chan string, 1)
	cb := newTestBreaker(clock).WithTripCallback(func(name, reason string) {
		tripped <- name
	})

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errUpstream)
	}

	select {
	case name := <-tripped:
		assert.Equal(t, "alchemy", name)
	case <-time.After(time.Second):
		t.Fatal("Trip callback was not invoked")
	}

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Allow())
}
