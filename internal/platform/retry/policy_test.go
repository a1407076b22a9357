package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestDoStopsAfterFirstSuccess(t *testing.T) {
	policy := NewPolicy(WithAttempts(5), WithSleeper(noSleep))

	calls := 0
	err := policy.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoReturnsLastErrorOnExhaustion(t *testing.T) {
	policy := NewPolicy(WithAttempts(3), WithSleeper(noSleep))

	boom := errors.New("still down")
	calls := 0
	err := policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want last attempt error", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoBacksOffExponentiallyWithCap(t *testing.T) {
	var delays []time.Duration
	policy := NewPolicy(
		WithAttempts(5),
		WithBaseDelay(100*time.Millisecond),
		WithMaxDelay(300*time.Millisecond),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)

	_ = policy.Do(context.Background(), func(context.Context, int) error {
		return errors.New("transient")
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}
	if len(delays) != len(want) {
		t.Fatalf("sleeps = %d, want %d", len(delays), len(want))
	}
	for i, d := range delays {
		if d != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, d, want[i])
		}
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	policy := NewPolicy(WithAttempts(3), WithSleeper(noSleep))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := policy.Do(ctx, func(context.Context, int) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}

func TestDoStopsWhenSleepInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := NewPolicy(
		WithAttempts(4),
		WithSleeper(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	calls := 0
	err := policy.Do(ctx, func(context.Context, int) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAttemptsReportsBound(t *testing.T) {
	if got := NewPolicy(WithAttempts(7)).Attempts(); got != 7 {
		t.Fatalf("Attempts() = %d, want 7", got)
	}
	if got := NewPolicy(WithAttempts(0)).Attempts(); got != defaultAttempts {
		t.Fatalf("Attempts() = %d, want default %d", got, defaultAttempts)
	}
}
