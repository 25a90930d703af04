// Package retry wraps fallible operations with an exponential-backoff
// policy. Policies hold no per-call state, so one value can serve any
// number of concurrent callers.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy wraps an operation with retries.
type Policy interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Nop invokes the operation exactly once.
type Nop struct{}

func (Nop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Backoff retries an operation with exponentially growing delays.
//
// It retries on any error returned by fn. If you need conditional retries,
// wrap fn and decide which errors to return. Validation failures should
// never pass through a Backoff: they are terminal, not transient.
type Backoff struct {
	Attempts   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// Default matches the hardening applied to object-store moves: three
// attempts starting at one second, doubling between tries.
var Default = Backoff{
	Attempts:   3,
	BaseDelay:  time.Second,
	MaxDelay:   30 * time.Second,
	Multiplier: 2,
}

func (r Backoff) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	mult := r.Multiplier
	if mult < 1 {
		mult = 2
	}

	if r.BaseDelay <= 0 && r.MaxDelay <= 0 {
		var last error
		for i := 0; i < attempts; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			last = fn(ctx)
			if last == nil {
				return nil
			}
		}
		return last
	}

	base := r.BaseDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	max := r.MaxDelay
	if max <= 0 {
		max = 2 * time.Second
	}
	if max < base {
		max = base
	}

	var last error
	delay := base

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(ctx); err == nil {
			return nil
		} else {
			last = err
		}

		if i == attempts-1 {
			break
		}

		d := delay
		if r.Jitter {
			j := 0.8 + rand.Float64()*0.4
			d = time.Duration(float64(d) * j)
		}
		if d > max {
			d = max
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * mult)
		if delay > max {
			delay = max
		}
	}

	return last
}
