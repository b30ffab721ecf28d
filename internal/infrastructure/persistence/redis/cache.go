// Package redis implements the Redis-backed pieces of the progress engine:
// a read-through cache for progress records, a cross-instance learner lock,
// a shared request rate limiter and the pub/sub transport of the event bus.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned by Cache.Get when the key is absent.
	ErrCacheMiss = errors.New("redis: cache miss")

	// ErrUnreachable wraps the ping failure from NewCache.
	ErrUnreachable = errors.New("redis: server unreachable")

	errEmptyKey = errors.New("redis: empty key")
)

// Key layout. Everything the engine writes lives under one of these.
const (
	keyProgress = "progress:"
	keyLock     = "lock:learner:"
	keyRate     = "ratelimit:"
)

const (
	// TTLProgressCache applies when the caller passes no TTL.
	TTLProgressCache = 5 * time.Minute

	// TTLLearnerLock bounds how long a crashed holder can block a learner.
	TTLLearnerLock = 10 * time.Second
)

// ProgressKey is where a learner's cached record lives.
func ProgressKey(learnerID string) string { return keyProgress + learnerID }

// LockKey is the learner's mutation lock.
func LockKey(learnerID string) string { return keyLock + learnerID }

// Config holds connection settings. Zero durations and sizes fall back to
// go-redis defaults.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig targets a local server.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// Cache is the engine's single Redis connection. It stores JSON values,
// provides the lock primitives and carries pub/sub.
type Cache struct {
	client redis.UniversalClient
}

// NewCache dials Redis and pings it once.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.options())

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w at %s: %v", ErrUnreachable, cfg.Addr, err)
	}
	return &Cache{client: client}, nil
}

// Close closes the connection pool.
func (c *Cache) Close() error { return c.client.Close() }

// Ping implements the health check.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Set stores value as JSON. A zero ttl keeps the key until it is deleted.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return errEmptyKey
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, raw, max(ttl, 0)).Err()
}

// Get decodes the JSON stored at key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if key == "" {
		return errEmptyKey
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return nil
}

// Delete removes keys; missing keys are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SetNX stores a raw string only if key is free.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// DeleteIfEquals removes key while its value is token and reports whether
// it did.
func (c *Cache) DeleteIfEquals(ctx context.Context, key, token string) (bool, error) {
	if key == "" {
		return false, errEmptyKey
	}
	n, err := compareAndDelete.Run(ctx, c.client, []string{key}, token).Int64()
	return n > 0, err
}

// countInWindow increments KEYS[1] and starts its expiry on the first hit.
var countInWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// IncrWindow counts a hit in the fixed window that key names and returns
// the count so far.
func (c *Cache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, errEmptyKey
	}
	return countInWindow.Run(ctx, c.client, []string{key}, window.Milliseconds()).Int64()
}

// Publish sends payload on channel.
func (c *Cache) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription. The caller closes the returned PubSub.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}
