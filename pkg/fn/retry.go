package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool

	// RetryIf decides whether a failed attempt is retried. A positive wait
	// overrides the exponential schedule for that attempt (e.g. a server
	// supplied Retry-After). Nil retries every error on the backoff schedule.
	RetryIf func(err error) (wait time.Duration, retry bool)

	// Sleep blocks for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry retries f up to MaxAttempts times. The last failed Result is returned
// when attempts run out or RetryIf declines.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	var result Result[T]
	wait := opts.InitialWait
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		sleepDur := wait
		if opts.Jitter {
			sleepDur = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleepDur > opts.MaxWait {
			sleepDur = opts.MaxWait
		}
		if opts.RetryIf != nil {
			override, ok := opts.RetryIf(result.err)
			if !ok {
				return result
			}
			if override > 0 {
				sleepDur = override
			}
		}

		if err := sleep(ctx, sleepDur); err != nil {
			return Err[T](err)
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}

// Sleep waits for d, returning early with ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
