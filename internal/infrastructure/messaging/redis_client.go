package messaging

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// pubSubSource is satisfied by persistence/redis.Cache.
type pubSubSource interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// GoRedisClient adapts a go-redis connection to RedisClient.
type GoRedisClient struct {
	src pubSubSource

	mu   sync.Mutex
	subs []*goredis.PubSub
}

// NewGoRedisClient creates a new adapter.
func NewGoRedisClient(src pubSubSource) *GoRedisClient {
	return &GoRedisClient{src: src}
}

// Publish implements RedisClient.
func (c *GoRedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.src.Publish(ctx, channel, payload)
}

// Subscribe implements RedisClient. The returned channel closes when ctx
// ends or the subscription is closed.
func (c *GoRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	ps := c.src.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation so publish-after-subscribe is safe.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	c.mu.Lock()
	c.subs = append(c.subs, ps)
	c.mu.Unlock()

	out := make(chan RedisMessage)
	in := ps.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes every subscription opened through this adapter. The
// underlying connection is owned by the caller.
func (c *GoRedisClient) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var firstErr error
	for _, ps := range subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
