package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("version conflict")

func fast(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond}
}

func TestDo_SucceedsAfterRetryableErrors(t *testing.T) {
	calls := 0
	err := fast(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errConflict)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_UnmarkedErrorReturnsImmediately(t *testing.T) {
	calls := 0
	err := fast(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errConflict
	})

	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedReturnsUnmarkedError(t *testing.T) {
	err := fast(2).Do(context.Background(), func(ctx context.Context) error {
		return Retryable(errConflict)
	})

	assert.Same(t, errConflict, err)
	assert.False(t, IsRetryable(err))
}

func TestZeroPolicy_SingleAttempt(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errConflict)
	})
	assert.Equal(t, 1, calls)
}

func TestOptimisticLock_UsesPredicate(t *testing.T) {
	var retried []int
	p := OptimisticLock(3, func(err error) bool { return errors.Is(err, errConflict) })
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errConflict
	})

	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fast(3).Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDo_ContextEndsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, InitialDelay: time.Hour}
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	err := p.Do(ctx, func(ctx context.Context) error { return Retryable(errConflict) })
	assert.Same(t, errConflict, err)
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fast(3), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errConflict)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDelay_GrowsAndCaps(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))
	assert.Equal(t, 3*time.Second, p.Delay(10))

	p.Jitter = 0.5
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
