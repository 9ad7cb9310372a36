package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/WessleyAI/reddit-search/pkg/fn"
)

// GateOpts configures the sliding-window request gate.
type GateOpts struct {
	// MaxRequests is the number of admissions allowed inside Window.
	MaxRequests int
	// Window is the trailing interval admissions are counted over.
	Window time.Duration
	// Margin is added to every computed wait so the oldest stamp has
	// definitely left the window when the gate re-checks.
	Margin time.Duration
	// OnWait, if set, is called (outside the lock) before each wait.
	OnWait func(wait time.Duration, inWindow int)
}

// DefaultGateOpts keeps unauthenticated Reddit traffic at 10 requests/minute.
var DefaultGateOpts = GateOpts{
	MaxRequests: 10,
	Window:      time.Minute,
	Margin:      100 * time.Millisecond,
}

// Gate admits at most MaxRequests calls in any trailing Window. Callers that
// find the window full are delayed, never rejected.
type Gate struct {
	mu     sync.Mutex
	opts   GateOpts
	stamps []time.Time // admission times, oldest first
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// NewGate creates a gate. Zero fields fall back to DefaultGateOpts.
func NewGate(opts GateOpts) *Gate {
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = DefaultGateOpts.MaxRequests
	}
	if opts.Window <= 0 {
		opts.Window = DefaultGateOpts.Window
	}
	if opts.Margin < 0 {
		opts.Margin = 0
	}
	return &Gate{
		opts:   opts,
		stamps: make([]time.Time, 0, opts.MaxRequests),
		now:    time.Now,
		sleep:  fn.Sleep,
	}
}

// Wait blocks until a request may be issued, then records it. The window is
// recomputed after every wait. It returns ctx.Err() if ctx ends first.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		g.mu.Lock()
		now := g.now()
		g.prune(now)
		if len(g.stamps) < g.opts.MaxRequests {
			g.stamps = append(g.stamps, now)
			g.mu.Unlock()
			return nil
		}
		wait := g.opts.Window - now.Sub(g.stamps[0]) + g.opts.Margin
		inWindow := len(g.stamps)
		g.mu.Unlock()

		if g.opts.OnWait != nil {
			g.opts.OnWait(wait, inWindow)
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Allow records an admission if the window has room (non-blocking).
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.prune(now)
	if len(g.stamps) >= g.opts.MaxRequests {
		return false
	}
	g.stamps = append(g.stamps, now)
	return true
}

// Len returns how many admissions are currently inside the window.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.now())
	return len(g.stamps)
}

// prune drops stamps that have left the window. Must hold mu.
func (g *Gate) prune(now time.Time) {
	i := 0
	for i < len(g.stamps) && now.Sub(g.stamps[i]) >= g.opts.Window {
		i++
	}
	if i > 0 {
		g.stamps = append(g.stamps[:0], g.stamps[i:]...)
	}
}
