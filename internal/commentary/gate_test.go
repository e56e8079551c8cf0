package commentary

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGate_CacheTTL(t *testing.T) {
	clock := newFakeClock()
	g := NewGate(DefaultGateOptions()).WithClock(clock.Now)

	g.Store("k", "v")
	got, ok := g.Lookup("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	clock.Advance(4*time.Minute + 59*time.Second)
	_, ok = g.Lookup("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = g.Lookup("k")
	assert.False(t, ok, "entry expires at the TTL")
	assert.Equal(t, 0, g.Len(), "expired entry is evicted on read")
}

func TestGate_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	g := NewGate(GateOptions{Window: time.Minute, Limit: 3}).WithClock(clock.Now)

	assert.True(t, g.Allow("GOLD"))
	clock.Advance(20 * time.Second)
	assert.True(t, g.Allow("GOLD"))
	assert.True(t, g.Allow("GOLD"))
	assert.False(t, g.Allow("GOLD"))
	assert.True(t, g.Allow("SILVER"), "identifiers are limited independently")

	clock.Advance(41 * time.Second)
	assert.True(t, g.Allow("GOLD"), "first request has left the window")
	assert.False(t, g.Allow("GOLD"))
}

func TestGate_EmptyIdentifierIsAnonymous(t *testing.T) {
	g := NewGate(GateOptions{Limit: 1}).WithClock(newFakeClock().Now)
	assert.True(t, g.Allow(""))
	assert.False(t, g.Allow(AnonymousIdentifier))
}

func TestGate_SweepDropsExpiredCache(t *testing.T) {
	clock := newFakeClock()
	g := NewGate(DefaultGateOptions()).WithClock(clock.Now)
	g.Store("a", 1)
	g.Store("b", 2)

	clock.Advance(6 * time.Minute)
	g.Allow("x")
	assert.Equal(t, 0, g.Len())
}

func TestGate_ConcurrentUse(t *testing.T) {
	g := NewGate(GateOptions{Window: time.Hour, Limit: 50})

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g.Store("k", i)
			g.Lookup("k")
			allowed <- g.Allow("PLATINUM")
		}(i)
	}
	wg.Wait()
	close(allowed)

	n := 0
	for ok := range allowed {
		if ok {
			n++
		}
	}
	assert.Equal(t, 50, n)
}
