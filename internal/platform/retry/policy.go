package retry

import (
	"context"
	"time"
)

const (
	defaultAttempts   = 3
	defaultBaseDelay  = 200 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
	defaultMultiplier = 2.0
)

// Policy is a bounded exponential-backoff strategy. The zero value is not
// usable; construct with NewPolicy.
type Policy struct {
	attempts   int
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customises policy behaviour.
type Option func(*Policy)

// WithAttempts bounds the total number of attempts, including the first.
func WithAttempts(attempts int) Option {
	return func(p *Policy) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// WithBaseDelay sets the delay before the second attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.baseDelay = d
		}
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.maxDelay = d
		}
	}
}

// WithSleeper overrides the sleep function, used by tests to avoid real waits.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// NewPolicy constructs a Policy with bounded exponential backoff.
func NewPolicy(opts ...Option) Policy {
	p := Policy{
		attempts:   defaultAttempts,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		multiplier: defaultMultiplier,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	return p
}

// Attempts reports the configured attempt bound.
func (p Policy) Attempts() int { return p.attempts }

// Do runs fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. The last error is returned on exhaustion.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	delay := p.baseDelay
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == p.attempts {
			break
		}

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * p.multiplier)
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
