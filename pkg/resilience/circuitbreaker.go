// Package resilience provides the request gate and circuit breaker that
// protect calls to upstream services.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls are rejected
	StateHalfOpen              // a limited number of probes pass
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the upstream while the breaker
// is open or its half-open probes are used up.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive counted failures open the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// HalfOpenMax is the number of probe calls admitted while half-open.
	HalfOpenMax int
	// Counts reports whether an error is an upstream failure. Errors it
	// rejects pass through without touching the failure count. Nil counts
	// every error.
	Counts func(error) bool
	// OnStateChange, if set, is called outside the lock after a transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts opens after 5 straight failures for 30s.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

type transition struct{ from, to State }

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probes   int
	now      func() time.Time
}

// NewBreaker creates a closed breaker. Zero fields use DefaultBreakerOpts.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, moved := b.refresh()
	b.mu.Unlock()
	b.notify(moved)
	return st
}

// Call runs f unless the breaker rejects it, and records the outcome. f's
// error is returned unchanged.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	st, moved := b.refresh()
	var err error
	switch st {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			b.probes++
		}
	}
	b.mu.Unlock()
	b.notify(moved)
	return err
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	var moved []transition
	if err != nil && (b.opts.Counts == nil || b.opts.Counts(err)) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			moved = b.set(StateOpen)
			b.openedAt = b.now()
		}
	} else {
		b.failures = 0
		if b.state == StateHalfOpen {
			moved = b.set(StateClosed)
		}
	}
	b.mu.Unlock()
	b.notify(moved)
}

// refresh moves an expired open breaker to half-open. Must hold mu.
func (b *Breaker) refresh() (State, []transition) {
	var moved []transition
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		moved = b.set(StateHalfOpen)
	}
	return b.state, moved
}

// set changes state and resets the counters. Must hold mu.
func (b *Breaker) set(to State) []transition {
	from := b.state
	b.state = to
	b.failures = 0
	b.probes = 0
	if from == to {
		return nil
	}
	return []transition{{from, to}}
}

func (b *Breaker) notify(moved []transition) {
	if b.opts.OnStateChange == nil {
		return
	}
	for _, t := range moved {
		b.opts.OnStateChange(t.from, t.to)
	}
}
