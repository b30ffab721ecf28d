// Package retry re-runs an operation with exponential backoff and jitter.
// The progress engine uses it to replay a whole read-modify-write cycle when
// the store reports a version conflict, to poll a distributed lock, and to
// wait for backing stores at startup.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// retryableError marks an error as worth another attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as retryable for policies without a RetryIf.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// Policy describes how an operation is retried. The zero value makes a
// single attempt.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Multiplier grows the delay after each attempt; below 1 means constant.
	Multiplier float64

	// Jitter spreads each delay by ±Jitter of its value (0..1).
	Jitter float64

	// RetryIf selects retryable errors. Nil retries errors marked with Retryable.
	RetryIf func(error) bool

	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do calls op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx ends. The returned error is op's last error without the
// Retryable marker.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return unmark(lastErr)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.retryable(err) || attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return unmark(lastErr)
		case <-t.C:
		}
	}
	return unmark(lastErr)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p Policy) retryable(err error) bool {
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return IsRetryable(err)
}

// Delay returns the sleep after the given attempt, jitter included.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d *= p.Multiplier
			if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

func unmark(err error) error {
	var r *retryableError
	if errors.As(err, &r) && err == error(r) {
		return r.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// OptimisticLock retries a read-modify-write cycle that lost a version race.
// The competing writer has usually finished already, so delays stay short.
func OptimisticLock(maxAttempts int, isConflict func(error) bool) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2,
		Jitter:       0.5,
		RetryIf:      isConflict,
	}
}

// Startup waits for a backing store that may still be coming up.
// Only errors marked with Retryable are retried.
func Startup() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}
