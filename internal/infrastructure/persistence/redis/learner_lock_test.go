package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physiohub/progress-engine/internal/domain/shared"
)

func fastLockConfig() LockConfig {
	return LockConfig{
		TTL:          time.Second,
		MaxAttempts:  3,
		PollInterval: time.Millisecond,
		MaxPoll:      2 * time.Millisecond,
	}
}

func TestLearnerLocker_AcquireRelease(t *testing.T) {
	store := newMemStore()
	locker := NewLearnerLocker(store, fastLockConfig(), nil)

	unlock, err := locker.Lock(context.Background(), "learner-1")
	require.NoError(t, err)
	assert.True(t, store.has(LockKey("learner-1")))

	unlock()
	assert.False(t, store.has(LockKey("learner-1")))
}

func TestLearnerLocker_BusyGivesUp(t *testing.T) {
	store := newMemStore()
	locker := NewLearnerLocker(store, fastLockConfig(), nil)

	unlock, err := locker.Lock(context.Background(), "learner-1")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "learner-1")
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
	assert.True(t, shared.IsConflict(err))

	other, err := locker.Lock(context.Background(), "learner-2")
	require.NoError(t, err)
	other()
}

func TestLearnerLocker_ReleaseKeepsForeignToken(t *testing.T) {
	store := newMemStore()
	locker := NewLearnerLocker(store, fastLockConfig(), nil)

	unlock, err := locker.Lock(context.Background(), "learner-1")
	require.NoError(t, err)

	// Simulate expiry and takeover by another instance.
	store.mu.Lock()
	store.data[LockKey("learner-1")] = []byte("someone-else")
	store.mu.Unlock()

	unlock()
	assert.True(t, store.has(LockKey("learner-1")))
}

func TestLearnerLocker_ContextCancelled(t *testing.T) {
	store := newMemStore()
	cfg := fastLockConfig()
	cfg.MaxAttempts = 1000
	locker := NewLearnerLocker(store, cfg, nil)

	unlock, err := locker.Lock(context.Background(), "learner-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "learner-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLearnerLocker_BackendError(t *testing.T) {
	store := newMemStore()
	store.failWith(errors.New("connection refused"))
	locker := NewLearnerLocker(store, fastLockConfig(), nil)

	_, err := locker.Lock(context.Background(), "learner-1")
	require.Error(t, err)
	assert.True(t, shared.IsUnavailable(err))
}
