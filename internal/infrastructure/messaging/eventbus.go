// Package messaging implements the event buses that carry progress and
// achievement events to downstream consumers. The in-memory bus serves a
// single instance; the Redis bus fans events out across instances.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/internal/infrastructure/metrics"
	"github.com/physiohub/progress-engine/pkg/logger"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("messaging: event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("messaging: handler panicked")

	errNilHandler = errors.New("messaging: nil handler")
	errNilEvent   = errors.New("messaging: nil event")
)

// InMemoryEventBusConfig tunes InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode hands deliveries to a worker pool; otherwise Publish runs
	// every handler before returning.
	AsyncMode bool

	WorkerPoolSize int

	// QueueSize bounds pending async deliveries. Publish blocks when full
	// until a worker frees a slot or the bus is closed.
	QueueSize int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// DefaultInMemoryEventBusConfig returns an async bus with 10 workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		QueueSize:      256,
	}
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// InMemoryEventBus implements shared.EventBus inside one process. Handler
// errors and panics are logged and never reach the publisher.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	// queue is nil in sync mode. It is never closed: done stops the workers.
	queue   chan delivery
	done    chan struct{}
	workers sync.WaitGroup

	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewInMemoryEventBus creates the bus and, in async mode, starts its workers.
func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	b := &InMemoryEventBus{
		byType:  make(map[shared.EventType][]shared.EventHandler),
		done:    make(chan struct{}),
		log:     cfg.Logger.With(logger.Component("event_bus")),
		metrics: cfg.Metrics,
	}

	if cfg.AsyncMode {
		workers := cfg.WorkerPoolSize
		if workers <= 0 {
			workers = 10
		}
		size := cfg.QueueSize
		if size <= 0 {
			size = 256
		}
		b.queue = make(chan delivery, size)
		b.workers.Add(workers)
		for range workers {
			go b.work()
		}
	}
	return b
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.wildcard = append(b.wildcard, handler)
	})
}

func (b *InMemoryEventBus) subscribe(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to its type's handlers, then to the wildcard ones.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.wildcard))
	targets = append(append(targets, typed...), b.wildcard...)
	b.mu.RUnlock()

	b.metrics.IncEventPublished(string(event.EventType()))

	// Enqueue without the lock: an async handler publishing into a full queue
	// must not hold up Close.
	if b.queue != nil {
		for _, h := range targets {
			select {
			case b.queue <- delivery{event: event, handler: h}:
			case <-b.done:
				return ErrEventBusClosed
			}
		}
		return nil
	}

	// Sync handlers may publish or subscribe themselves.
	for _, h := range targets {
		b.deliver(delivery{event: event, handler: h})
	}
	return nil
}

// work delivers until Close, then drains what is already queued.
func (b *InMemoryEventBus) work() {
	defer b.workers.Done()
	for {
		select {
		case d := <-b.queue:
			b.deliver(d)
		case <-b.done:
			for {
				select {
				case d := <-b.queue:
					b.deliver(d)
				default:
					return
				}
			}
		}
	}
}

func (b *InMemoryEventBus) deliver(d delivery) {
	start := time.Now()
	err := invoke(d)
	b.metrics.ObserveEventHandler(string(d.event.EventType()), time.Since(start), err)
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(d.event.EventType())),
			logger.String("aggregate_id", d.event.AggregateID()),
			logger.Err(err),
		)
	}
}

func invoke(d delivery) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return d.handler(d.event)
}

// Close rejects further publishing and waits for queued deliveries.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.workers.Wait()
	b.log.Debug("event bus closed")
	return nil
}
