package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// fakeClock drives a gate without real sleeping: waiting advances the clock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	waited []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.waited = append(c.waited, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func newFakeGate(opts GateOpts) (*Gate, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	g := NewGate(opts)
	g.now = clock.Now
	g.sleep = clock.Sleep
	return g, clock
}

func TestGateAdmitsUpToMax(t *testing.T) {
	g, clock := newFakeGate(GateOpts{MaxRequests: 3, Window: time.Second, Margin: 100 * time.Millisecond})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if len(clock.waited) != 0 {
		t.Fatalf("expected no waiting inside the budget, waited %v", clock.waited)
	}
	if g.Len() != 3 {
		t.Fatalf("expected 3 stamps, got %d", g.Len())
	}
}

func TestGateWaitsForOldestToExpire(t *testing.T) {
	g, clock := newFakeGate(GateOpts{MaxRequests: 2, Window: time.Second, Margin: 100 * time.Millisecond})
	ctx := context.Background()

	_ = g.Wait(ctx)
	clock.Advance(300 * time.Millisecond)
	_ = g.Wait(ctx)
	clock.Advance(200 * time.Millisecond)

	// Oldest stamp is 500ms old: wait = 1s - 500ms + 100ms.
	if err := g.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.waited) != 1 || clock.waited[0] != 600*time.Millisecond {
		t.Fatalf("expected a single 600ms wait, got %v", clock.waited)
	}
}

func TestGateRechecksAfterWaiting(t *testing.T) {
	g, clock := newFakeGate(GateOpts{MaxRequests: 1, Window: time.Second})
	var hooked []time.Duration
	g.opts.OnWait = func(d time.Duration, n int) {
		hooked = append(hooked, d)
		if n != 1 {
			t.Errorf("expected 1 stamp in window, got %d", n)
		}
	}

	// Competing caller sneaks in while we "sleep", forcing a second wait.
	sneaked := false
	g.sleep = func(ctx context.Context, d time.Duration) error {
		_ = clock.Sleep(ctx, d)
		if !sneaked {
			sneaked = true
			if !g.Allow() {
				t.Error("competing caller should have been admitted")
			}
		}
		return nil
	}

	ctx := context.Background()
	_ = g.Wait(ctx)
	if err := g.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(hooked) != 2 {
		t.Fatalf("expected two waits (window recomputed), got %v", hooked)
	}
}

func TestGateSlidingWindowProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 25; trial++ {
		maxReq := 1 + rng.Intn(6)
		window := time.Duration(50+rng.Intn(200)) * time.Millisecond
		g, clock := newFakeGate(GateOpts{MaxRequests: maxReq, Window: window, Margin: time.Duration(rng.Intn(3)) * time.Millisecond})

		var admitted []time.Time
		for i := 0; i < 150; i++ {
			clock.Advance(time.Duration(rng.Int63n(int64(window) / 3)))
			if err := g.Wait(context.Background()); err != nil {
				t.Fatal(err)
			}
			admitted = append(admitted, clock.Now())
		}

		for i := 0; i+maxReq < len(admitted); i++ {
			if gap := admitted[i+maxReq].Sub(admitted[i]); gap < window {
				t.Fatalf("trial %d: %d admissions within %v (gap %v) with max %d",
					trial, maxReq+1, window, gap, maxReq)
			}
		}
	}
}

func TestGateAllow(t *testing.T) {
	g, clock := newFakeGate(GateOpts{MaxRequests: 2, Window: time.Second})
	if !g.Allow() || !g.Allow() {
		t.Fatal("expected first two admissions")
	}
	if g.Allow() {
		t.Fatal("expected rejection with a full window")
	}
	clock.Advance(time.Second)
	if !g.Allow() {
		t.Fatal("expected admission after the window slid")
	}
}

func TestGateWaitCancelled(t *testing.T) {
	g := NewGate(GateOpts{MaxRequests: 1, Window: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := g.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGateConcurrentCallersShareWindow(t *testing.T) {
	const (
		maxReq  = 5
		window  = 150 * time.Millisecond
		callers = 12
	)
	g := NewGate(GateOpts{MaxRequests: maxReq, Window: window, Margin: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.Wait(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	// 12 admissions at 5 per window need at least two full windows.
	if elapsed := time.Since(start); elapsed < 2*window {
		t.Fatalf("expected >= %v, finished in %v", 2*window, elapsed)
	}
}

func TestNewGateDefaults(t *testing.T) {
	g := NewGate(GateOpts{})
	if g.opts.MaxRequests != 10 || g.opts.Window != time.Minute {
		t.Fatalf("unexpected defaults: %+v", g.opts)
	}
}
