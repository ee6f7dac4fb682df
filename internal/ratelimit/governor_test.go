package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fixedClock returns a now-func pinned to t that can be advanced by tests.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestGovernor(perMinute, perHour int) (*Governor, *fixedClock) {
	clk := &fixedClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	g := New(perMinute, perHour)
	g.now = clk.now
	return g, clk
}

func TestAdmit_MinuteWindowSequence(t *testing.T) {
	g, _ := newTestGovernor(5, 1000)

	want := []int{4, 3, 2, 1, 0}
	for i, exp := range want {
		d := g.Admit("ip:1.2.3.4")
		if !d.Allowed {
			t.Fatalf("call %d: expected Allow, got deny on %s", i+1, d.Window)
		}
		if d.RemainingMinute != exp {
			t.Fatalf("call %d: RemainingMinute = %d, want %d", i+1, d.RemainingMinute, exp)
		}
	}

	d := g.Admit("ip:1.2.3.4")
	if d.Allowed {
		t.Fatalf("6th call: expected denial")
	}
	if d.Window != WindowPerMinute {
		t.Fatalf("6th call: Window = %q, want %q", d.Window, WindowPerMinute)
	}
	if d.RetryAfter < 1 {
		t.Fatalf("6th call: RetryAfter = %d, want >= 1", d.RetryAfter)
	}
	if d.Limit != 5 {
		t.Fatalf("6th call: Limit = %d, want 5", d.Limit)
	}
}

func TestAdmit_IndependentIdentifiers(t *testing.T) {
	g, _ := newTestGovernor(1, 1000)

	if d := g.Admit("ip:10.0.0.1"); !d.Allowed {
		t.Fatalf("first identifier should be admitted")
	}
	if d := g.Admit("ip:10.0.0.1"); d.Allowed {
		t.Fatalf("first identifier should now be denied")
	}
	// A different identifier has its own budget.
	if d := g.Admit("ip:10.0.0.2"); !d.Allowed {
		t.Fatalf("second identifier should be unaffected")
	}
}

func TestAdmit_HourDenialRefundsMinuteToken(t *testing.T) {
	g, _ := newTestGovernor(10, 2)

	// Exhaust the hour window.
	for i := 0; i < 2; i++ {
		if d := g.Admit("k"); !d.Allowed {
			t.Fatalf("setup call %d denied on %s", i+1, d.Window)
		}
	}

	e := g.entry("k")
	e.mu.Lock()
	before := e.minute.tokens
	e.mu.Unlock()

	d := g.Admit("k")
	if d.Allowed {
		t.Fatalf("expected hour-window denial")
	}
	if d.Window != WindowPerHour {
		t.Fatalf("Window = %q, want %q", d.Window, WindowPerHour)
	}
	if d.Limit != 2 {
		t.Fatalf("Limit = %d, want 2", d.Limit)
	}

	e.mu.Lock()
	after := e.minute.tokens
	e.mu.Unlock()
	if after != before {
		t.Fatalf("minute tokens changed across hour denial: before=%v after=%v", before, after)
	}
}

func TestRefill_NeverExceedsCapacity(t *testing.T) {
	g, clk := newTestGovernor(5, 100)

	// Drain a couple of tokens, then let far more time pass than needed to
	// refill completely.
	g.Admit("k")
	g.Admit("k")
	clk.advance(24 * time.Hour)
	d := g.Admit("k")
	if !d.Allowed {
		t.Fatalf("expected Allow after refill")
	}
	if d.RemainingMinute != 4 {
		t.Fatalf("RemainingMinute = %d, want 4 (full capacity minus this request)", d.RemainingMinute)
	}
	if d.RemainingHour != 99 {
		t.Fatalf("RemainingHour = %d, want 99", d.RemainingHour)
	}

	e := g.entry("k")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.minute.tokens > e.minute.capacity || e.hour.tokens > e.hour.capacity {
		t.Fatalf("tokens exceed capacity: minute=%v/%v hour=%v/%v",
			e.minute.tokens, e.minute.capacity, e.hour.tokens, e.hour.capacity)
	}
}

func TestAdmit_MinuteBudgetRecoversWithTime(t *testing.T) {
	g, clk := newTestGovernor(5, 1000)

	for i := 0; i < 5; i++ {
		g.Admit("k")
	}
	if d := g.Admit("k"); d.Allowed {
		t.Fatalf("expected exhausted minute window")
	}

	// 5 per minute refills one token every 12 seconds.
	clk.advance(13 * time.Second)
	if d := g.Admit("k"); !d.Allowed {
		t.Fatalf("expected one token after refill interval")
	}
	if d := g.Admit("k"); d.Allowed {
		t.Fatalf("expected only a single refilled token")
	}
}

func TestRetryAfter_RoundsUpPlusSlack(t *testing.T) {
	g, _ := newTestGovernor(5, 1000)
	for i := 0; i < 5; i++ {
		g.Admit("k")
	}
	d := g.Admit("k")
	if d.Allowed {
		t.Fatalf("expected denial")
	}
	// One token takes 12s at 5/min; empty bucket → ceil(12)+1 = 13.
	if d.RetryAfter != 13 {
		t.Fatalf("RetryAfter = %d, want 13", d.RetryAfter)
	}
}

func TestSweep_EvictsIdleEntries(t *testing.T) {
	g, clk := newTestGovernor(5, 100)

	g.Admit("stale")
	if g.Size() != 1 {
		t.Fatalf("expected 1 tracked identifier, got %d", g.Size())
	}

	// Move past both the retention window and the sweep interval, then touch
	// a different identifier so the opportunistic sweep runs.
	clk.advance(2 * time.Hour)
	g.Admit("fresh")

	if _, ok := g.entries.Load("stale"); ok {
		t.Fatalf("expected 'stale' to be evicted by the sweep")
	}
	if _, ok := g.entries.Load("fresh"); !ok {
		t.Fatalf("expected 'fresh' to survive the sweep")
	}
}

func TestSweep_IsRateGated(t *testing.T) {
	g, clk := newTestGovernor(5, 100)

	g.Admit("a")
	clk.advance(2 * time.Hour)
	g.Admit("b") // sweep runs here, evicting "a"

	// A second idle entry created now must survive sweeps attempted within
	// the sweep interval.
	clk.advance(time.Minute)
	g.Admit("c")
	if _, ok := g.entries.Load("b"); !ok {
		t.Fatalf("expected 'b' to survive: sweep interval has not elapsed")
	}
}

func TestAdmit_ConcurrentCallersRespectCapacity(t *testing.T) {
	g, _ := newTestGovernor(50, 10000)

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := g.Admit("shared"); d.Allowed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	n := 0
	for range allowed {
		n++
	}
	if n != 50 {
		t.Fatalf("admitted %d concurrent requests, want exactly 50", n)
	}
}

func TestNew_CoercesNonPositiveCapacities(t *testing.T) {
	g := New(0, -1)
	if g.PerMinute() != 1 || g.PerHour() != 1 {
		t.Fatalf("capacities not coerced: %d/%d", g.PerMinute(), g.PerHour())
	}
}
