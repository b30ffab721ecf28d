package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/physiohub/progress-engine/pkg/logger"
)

// Limiter admits or refuses one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit refuses requests over the limiter's budget with 429. The key is
// the client IP. A limiter error lets the request through.
func RateLimit(l Limiter, retryAfter time.Duration, reject Reject) Middleware {
	retry := strconv.Itoa(int(retryAfter.Round(time.Second).Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), ClientIP(r))
			if err != nil {
				logger.FromContext(r.Context()).Warn("rate limiter unavailable", logger.Err(err))
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", retry)
				reject(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LocalLimiter is a per-key token bucket held in process memory. Each key
// gets limit tokens per window with a burst of limit.
type LocalLimiter struct {
	every rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocalLimiter starts a janitor that forgets keys idle for two windows.
// Call Stop to end it.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	limit = max(limit, 1)
	l := &LocalLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    2 * window,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.janitor(window)
	return l
}

// Allow implements Limiter. It never fails.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1), nil
}

// Stop ends the janitor.
func (l *LocalLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *LocalLimiter) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-t.C:
			l.mu.Lock()
			for key, b := range l.buckets {
				if now.Sub(b.seen) > l.idle {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
