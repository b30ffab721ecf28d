package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// RedisClient is the pub/sub surface RedisEventBus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error)
	Close() error
}

// RedisMessage is one pub/sub delivery.
type RedisMessage struct {
	Channel string
	Payload string
	Err     error
}

// RedisEventBusConfig configures RedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// ChannelName defaults to "progress:events".
	ChannelName string

	// InstanceID tags outgoing events so an instance can drop its own echo.
	// Defaults to a random UUID.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *logger.Logger
}

// RedisEventBus delivers events to local handlers immediately and relays
// them to every other instance subscribed to the same channel.
type RedisEventBus struct {
	*InMemoryEventBus

	client  RedisClient
	channel string
	origin  string
	log     *logger.Logger

	stop    context.CancelFunc
	relay   sync.WaitGroup
	closing sync.Once
}

// NewRedisEventBus subscribes to the channel before returning, so events
// published by other instances afterwards are not missed.
func NewRedisEventBus(cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("messaging: redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = "progress:events"
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	ctx, stop := context.WithCancel(context.Background())
	incoming, err := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if err != nil {
		stop()
		return nil, fmt.Errorf("messaging: subscribe %s: %w", cfg.ChannelName, err)
	}

	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(cfg.LocalBusConfig),
		client:           cfg.Client,
		channel:          cfg.ChannelName,
		origin:           cfg.InstanceID,
		log: cfg.Logger.With(
			logger.Component("redis_event_bus"),
			logger.String("instance_id", cfg.InstanceID),
		),
		stop: stop,
	}

	b.relay.Add(1)
	go b.receive(ctx, incoming)
	return b, nil
}

// Publish relays event to the channel and delivers it locally. A relay
// failure is logged; local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	payload, err := json.Marshal(wireEvent{
		Origin:    b.origin,
		Type:      event.EventType(),
		Aggregate: event.AggregateID(),
		At:        event.OccurredAt(),
		Data:      event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("messaging: encode %s: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload); err != nil {
		b.log.Warn("event relay failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}

	return b.InMemoryEventBus.Publish(event)
}

func (b *RedisEventBus) receive(ctx context.Context, incoming <-chan RedisMessage) {
	defer b.relay.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.log.Warn("redis subscription error", logger.Err(msg.Err))
				continue
			}

			var ev wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("dropping undecodable event", logger.Err(err))
				continue
			}
			if ev.Origin == b.origin {
				continue
			}
			if err := b.InMemoryEventBus.Publish(&ev); err != nil && !errors.Is(err, ErrEventBusClosed) {
				b.log.Error("failed to deliver relayed event", logger.Err(err))
			}
		}
	}
}

// Close stops relaying, drains local handlers and releases the subscription.
func (b *RedisEventBus) Close() error {
	var err error
	b.closing.Do(func() {
		b.stop()
		b.relay.Wait()
		_ = b.InMemoryEventBus.Close()
		err = b.client.Close()
	})
	return err
}

// wireEvent is the JSON form of an event on the channel. Decoded values
// satisfy shared.Event directly.
type wireEvent struct {
	Origin    string                 `json:"instance_id"`
	Type      shared.EventType       `json:"event_type"`
	Aggregate string                 `json:"aggregate_id"`
	At        time.Time              `json:"occurred_at"`
	Data      map[string]interface{} `json:"payload"`
}

func (e *wireEvent) EventType() shared.EventType     { return e.Type }
func (e *wireEvent) AggregateID() string             { return e.Aggregate }
func (e *wireEvent) OccurredAt() time.Time           { return e.At }
func (e *wireEvent) Payload() map[string]interface{} { return e.Data }
