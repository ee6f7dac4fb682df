// Package ratelimit implements the per-caller request budget applied at the
// edge of the API: a dual-window (per-minute, per-hour) token-bucket governor
// with lazy refill and opportunistic sweeping of idle entries.
//
// Design:
//   - Buckets hold fractional tokens and refill continuously with elapsed
//     wall-clock time, capped at capacity. There is no background timer; all
//     accounting happens on the admit path.
//   - Each identifier owns one minute bucket and one hour bucket. A request
//     must consume from both; a request denied on the hour window has its
//     minute token refunded so the coarser denial does not also burn the
//     finer budget.
//   - Entries live in a sync.Map with a per-entry mutex, so admissions for
//     unrelated identifiers never contend. An idle-entry sweep runs at most
//     once per sweep interval, gated by a single atomic timestamp.
//
// The governor is process-local. For horizontally scaled deployments a shared
// limiter (e.g. Redis-backed) would be needed to enforce global budgets.
package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Window names reported on denials.
const (
	WindowPerMinute = "per_minute"
	WindowPerHour   = "per_hour"
)

const (
	// sweepInterval is the minimum spacing between idle-entry sweeps.
	sweepInterval = 5 * time.Minute
	// idleRetention is how long an untouched entry survives before a sweep
	// may evict it.
	idleRetention = time.Hour
)

// Decision is the outcome of one Admit call.
//
// When Allowed is true, RemainingMinute and RemainingHour carry the
// post-consumption token counts (floored) for response headers. When false,
// RetryAfter, Window and Limit describe the denying window.
type Decision struct {
	Allowed bool

	RemainingMinute int
	RemainingHour   int

	RetryAfter int    // seconds until a token is available
	Window     string // "per_minute" or "per_hour"
	Limit      int    // capacity of the denying window
}

// bucket is a single token bucket with continuous refill.
type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(capacity, refillRate float64, now time.Time) bucket {
	return bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: now,
	}
}

// refill credits tokens for the time elapsed since the last refill, capped at
// capacity. Refill is monotonic in elapsed wall-clock time.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.tokens+elapsed*b.refillRate, b.capacity)
	}
	b.lastRefill = now
}

// consume takes one token if available, refilling first.
func (b *bucket) consume(now time.Time) bool {
	b.refill(now)
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// retryAfter reports how many seconds until one token is available, rounded
// up, plus one second of slack so clients retrying on the boundary succeed.
func (b *bucket) retryAfter() int {
	if b.tokens >= 1.0 {
		return 0
	}
	needed := 1.0 - b.tokens
	return int(math.Ceil(needed/b.refillRate)) + 1
}

// remaining floors the current token count for observability headers.
func (b *bucket) remaining() int {
	if b.tokens <= 0 {
		return 0
	}
	return int(b.tokens)
}

// entry owns both windows for one identifier. The mutex guards all bucket
// state; it is never held across I/O.
type entry struct {
	mu     sync.Mutex
	minute bucket
	hour   bucket
}

// Governor is the dual-window rate limiter. It is safe for concurrent use.
type Governor struct {
	perMinute int
	perHour   int

	entries   sync.Map // identifier -> *entry
	lastSweep atomic.Int64

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New constructs a Governor with the given window capacities. Capacities <= 0
// are coerced to 1.
func New(perMinute, perHour int) *Governor {
	if perMinute <= 0 {
		perMinute = 1
	}
	if perHour <= 0 {
		perHour = 1
	}
	return &Governor{
		perMinute: perMinute,
		perHour:   perHour,
		now:       time.Now,
	}
}

// PerMinute returns the minute-window capacity.
func (g *Governor) PerMinute() int { return g.perMinute }

// PerHour returns the hour-window capacity.
func (g *Governor) PerHour() int { return g.perHour }

// Admit refills and consumes from both of the identifier's windows.
//
// The minute window is checked first; on an hour-window denial the minute
// token is refunded so the caller's minute budget is untouched by a request
// that never ran. Refunds are capped at the minute capacity.
func (g *Governor) Admit(identifier string) Decision {
	g.maybeSweep()

	e := g.entry(identifier)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := g.now()
	if !e.minute.consume(now) {
		return Decision{
			RetryAfter: e.minute.retryAfter(),
			Window:     WindowPerMinute,
			Limit:      g.perMinute,
		}
	}
	if !e.hour.consume(now) {
		e.minute.tokens = math.Min(e.minute.tokens+1.0, e.minute.capacity)
		return Decision{
			RetryAfter: e.hour.retryAfter(),
			Window:     WindowPerHour,
			Limit:      g.perHour,
		}
	}
	return Decision{
		Allowed:         true,
		RemainingMinute: e.minute.remaining(),
		RemainingHour:   e.hour.remaining(),
	}
}

// entry fetches or creates the bucket pair for an identifier.
func (g *Governor) entry(identifier string) *entry {
	if v, ok := g.entries.Load(identifier); ok {
		return v.(*entry)
	}
	now := g.now()
	fresh := &entry{
		minute: newBucket(float64(g.perMinute), float64(g.perMinute)/60.0, now),
		hour:   newBucket(float64(g.perHour), float64(g.perHour)/3600.0, now),
	}
	actual, _ := g.entries.LoadOrStore(identifier, fresh)
	return actual.(*entry)
}

// maybeSweep evicts identifiers idle beyond the retention window. At most one
// caller per sweep interval wins the CompareAndSwap and pays for the pass;
// everyone else returns immediately. The sweep may race harmlessly with an
// in-flight admit: an entry recreated right after eviction simply restarts at
// full capacity.
func (g *Governor) maybeSweep() {
	now := g.now()
	last := g.lastSweep.Load()
	if now.Unix()-last < int64(sweepInterval.Seconds()) {
		return
	}
	if !g.lastSweep.CompareAndSwap(last, now.Unix()) {
		return
	}

	threshold := now.Add(-idleRetention)
	g.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		idle := e.minute.lastRefill.Before(threshold) && e.hour.lastRefill.Before(threshold)
		e.mu.Unlock()
		if idle {
			g.entries.Delete(key)
		}
		return true
	})
}

// Size reports the number of tracked identifiers. Intended for metrics and
// tests; the count is approximate under concurrent mutation.
func (g *Governor) Size() int {
	n := 0
	g.entries.Range(func(any, any) bool { n++; return true })
	return n
}
