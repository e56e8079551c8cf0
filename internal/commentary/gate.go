package commentary

import (
	"sync"
	"time"
)

// AnonymousIdentifier rate-limits requesters without a known tier
const AnonymousIdentifier = "anonymous"

// GateOptions configures a Gate
type GateOptions struct {
	// CacheTTL is how long a stored response is served
	CacheTTL time.Duration

	// Window and Limit bound requests per identifier: at most Limit inside any trailing Window
	Window time.Duration
	Limit  int
}

// DefaultGateOptions returns a 5 minute cache and 10 requests per minute
func DefaultGateOptions() GateOptions {
	return GateOptions{
		CacheTTL: 5 * time.Minute,
		Window:   time.Minute,
		Limit:    10,
	}
}

type cacheEntry struct {
	value     interface{}
	createdAt time.Time
}

// Gate is the response cache and sliding-window rate limiter shared by all
// in-flight commentary requests. It is safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	opts     GateOptions
	now      func() time.Time
	cache    map[string]cacheEntry
	requests map[string][]time.Time
}

// NewGate creates a Gate. Zero options fall back to the defaults.
func NewGate(opts GateOptions) *Gate {
	defaults := DefaultGateOptions()
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaults.CacheTTL
	}
	if opts.Window <= 0 {
		opts.Window = defaults.Window
	}
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	return &Gate{
		opts:     opts,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
		requests: make(map[string][]time.Time),
	}
}

// WithClock sets the time source for testing
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	return g
}

// Lookup returns a cached value younger than the TTL. Expired entries are evicted.
func (g *Gate) Lookup(key string) (interface{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.cache[key]
	if !ok {
		return nil, false
	}
	if g.now().Sub(entry.createdAt) >= g.opts.CacheTTL {
		delete(g.cache, key)
		return nil, false
	}
	return entry.value, true
}

// Store caches value under key
func (g *Gate) Store(key string, value interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = cacheEntry{value: value, createdAt: g.now()}
}

// Allow records a request for identifier and reports whether it fits inside
// the window. Rejected requests are not recorded. Each call also sweeps
// expired rate-limit and cache entries.
func (g *Gate) Allow(identifier string) bool {
	if identifier == "" {
		identifier = AnonymousIdentifier
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweep(now)

	recent := g.requests[identifier]
	if len(recent) >= g.opts.Limit {
		return false
	}
	g.requests[identifier] = append(recent, now)
	return true
}

func (g *Gate) sweep(now time.Time) {
	windowStart := now.Add(-g.opts.Window)
	for id, stamps := range g.requests {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(windowStart) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(g.requests, id)
			continue
		}
		g.requests[id] = kept
	}

	for key, entry := range g.cache {
		if now.Sub(entry.createdAt) >= g.opts.CacheTTL {
			delete(g.cache, key)
		}
	}
}

// Len returns the number of cached entries, expired ones included until swept
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}
