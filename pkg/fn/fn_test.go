package fn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, Sleep: noSleep}, func(context.Context) Result[int] {
		calls++
		if calls < 3 {
			return Err[int](fmt.Errorf("attempt %d", calls))
		}
		return Ok(7)
	})
	v, err := r.Unwrap()
	if err != nil || v != 7 {
		t.Fatalf("expected 7, got %d (%v)", v, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, Sleep: noSleep}, func(context.Context) Result[int] {
		calls++
		return Err[int](fmt.Errorf("fail %d", calls))
	})
	_, err := r.Unwrap()
	if err == nil || err.Error() != "fail 2" {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestRetryIfDeclines(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		Sleep:       noSleep,
		RetryIf:     func(error) (time.Duration, bool) { return 0, false },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](fatal)
	})
	if _, err := r.Unwrap(); !errors.Is(err, fatal) {
		t.Fatalf("expected fatal, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryIfOverridesWait(t *testing.T) {
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	Retry(context.Background(), RetryOpts{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Sleep:       sleep,
		RetryIf:     func(error) (time.Duration, bool) { return 2 * time.Second, true },
	}, func(context.Context) Result[int] {
		return Err[int](errors.New("throttled"))
	})
	if len(slept) != 2 {
		t.Fatalf("expected 2 sleeps, got %v", slept)
	}
	for _, d := range slept {
		if d != 2*time.Second {
			t.Fatalf("expected server wait of 2s, got %v", d)
		}
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retry(ctx, RetryOpts{MaxAttempts: 3, InitialWait: time.Hour}, func(context.Context) Result[int] {
		return Err[int](errors.New("nope"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSleepZero(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParMapPreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}
	var active, peak atomic.Int32
	out := ParMap(items, 2, func(i, v int) int {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Duration(v) * time.Millisecond)
		active.Add(-1)
		return v * 10
	})
	for i, v := range items {
		if out[i] != v*10 {
			t.Fatalf("index %d: expected %d, got %d", i, v*10, out[i])
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent workers, saw %d", peak.Load())
	}
}

func TestParMapSequential(t *testing.T) {
	var order []int
	ParMap([]string{"a", "b", "c"}, 1, func(i int, _ string) struct{} {
		order = append(order, i)
		return struct{}{}
	})
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected sequential order, got %v", order)
	}
}

func TestSliceHelpers(t *testing.T) {
	doubled := Map([]int{1, 2}, func(v int) int { return v * 2 })
	if doubled[0] != 2 || doubled[1] != 4 {
		t.Fatalf("map: %v", doubled)
	}
	even := Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 })
	if len(even) != 2 || even[0] != 2 {
		t.Fatalf("filter: %v", even)
	}
	if got := Filter([]int{1}, func(int) bool { return false }); got == nil {
		t.Fatal("filter should return empty, not nil")
	}
	if got := Take([]int{1, 2, 3}, 2); len(got) != 2 {
		t.Fatalf("take: %v", got)
	}
	if got := Take([]int{1}, 5); len(got) != 1 {
		t.Fatalf("take beyond length: %v", got)
	}
	if got := Take([]int{1}, -1); len(got) != 0 {
		t.Fatalf("take negative: %v", got)
	}
}

func TestResultHelpers(t *testing.T) {
	if r := FromPair(1, nil); !r.IsOk() {
		t.Fatal("expected ok")
	}
	r := FromPair(0, errors.New("bad"))
	if r.IsOk() {
		t.Fatal("expected err")
	}
	if _, err := r.Unwrap(); err == nil || err.Error() != "bad" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
