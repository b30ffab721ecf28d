package shared

import "time"

// EventType names a domain event on the bus.
type EventType string

// События движка. Подписчики (уведомления, аналитика) получают их уже после
// сохранения записи; движок их не ждёт.
const (
	EventTopicCompleted EventType = "progress.topic_completed"
	EventContentViewed  EventType = "progress.content_viewed"
	EventQuizRecorded   EventType = "progress.quiz_recorded"
	EventStreakUpdated  EventType = "progress.streak_updated"
	EventStreakBroken   EventType = "progress.streak_broken"

	EventAchievementUnlocked EventType = "achievement.unlocked"
)

// Event is what travels over the bus. Payload is the flat form used when an
// event crosses a process boundary; a handler that receives an event from
// another instance only has the payload.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]any
}

// BaseEvent carries the envelope fields. The aggregate of every progress
// event is the learner.
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Learner   string    `json:"aggregate_id"`
}

// NewBaseEvent stamps an envelope with the pipeline's clock.
func NewBaseEvent(t EventType, learnerID string, at time.Time) BaseEvent {
	return BaseEvent{Type: t, Timestamp: at, Learner: learnerID}
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.Learner }

// ═══════════════════════════════════════════════════════════════════════════
// Контракты шины
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler reacts to one event. A returned error is logged by the bus
// and never reaches the publisher.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	// Subscribe registers handler for one event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers handler for every event type.
	SubscribeAll(handler EventHandler) error
}

// EventBus is both sides of the bus.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
