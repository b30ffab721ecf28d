package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	store := newMemStore()
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	l := NewRateLimiter(store, 2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for _, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}

	ok, _ := l.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "keys are counted separately")

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "1.2.3.4")
	assert.True(t, ok, "a new window starts a new count")
}

func TestRateLimiter_StoreError(t *testing.T) {
	store := newMemStore()
	store.failWith(errors.New("redis down"))

	ok, err := NewRateLimiter(store, 5, time.Minute).Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}
