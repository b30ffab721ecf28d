package redis

import (
	"context"
	"strconv"
	"time"
)

type windowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimiter is a fixed-window request counter shared by every instance.
type RateLimiter struct {
	store  windowCounter
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows limit hits per key in each window.
func NewRateLimiter(store windowCounter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:  store,
		limit:  int64(max(limit, 1)),
		window: window,
		now:    time.Now,
	}
}

// Allow counts one hit for key.
func (l *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := l.now().UnixMilli() / l.window.Milliseconds()
	n, err := l.store.IncrWindow(ctx, keyRate+key+":"+strconv.FormatInt(slot, 10), l.window)
	if err != nil {
		return false, err
	}
	return n <= l.limit, nil
}
