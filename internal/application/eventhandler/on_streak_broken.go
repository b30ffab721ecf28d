package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON STREAK BROKEN
// Мягкое напоминание после прерванной серии. Короткие серии не стоят
// уведомления.
// ══════════════════════════════════════════════════════════════════════════════

// OnStreakBrokenHandler notifies learners who lost a streak worth mentioning.
type OnStreakBrokenHandler struct {
	notifier  Notifier
	gate      Gate
	minStreak int
	log       *logger.Logger
}

// NewOnStreakBrokenHandler creates the handler. Streaks shorter than minStreak are ignored.
func NewOnStreakBrokenHandler(notifier Notifier, minStreak int, log *logger.Logger) *OnStreakBrokenHandler {
	if log == nil {
		log = logger.Nop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	if minStreak < 1 {
		minStreak = 1
	}
	return &OnStreakBrokenHandler{
		notifier:  notifier,
		minStreak: minStreak,
		log:       log.With(logger.Component("on_streak_broken")),
	}
}

// SetGate restricts notifications to learners the gate admits.
func (h *OnStreakBrokenHandler) SetGate(g Gate) {
	h.gate = g
}

// Register subscribes the handler on the bus.
func (h *OnStreakBrokenHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventStreakBroken, h.Handle)
}

// Handle implements shared.EventHandler.
func (h *OnStreakBrokenHandler) Handle(event shared.Event) error {
	var learnerID string
	var previous int

	if e, ok := event.(shared.StreakBrokenEvent); ok {
		learnerID, previous = e.LearnerID, e.PreviousStreak
	} else {
		p := event.Payload()
		learnerID, previous = payloadString(p, "learner_id"), payloadInt(p, "previous_streak")
	}
	if learnerID == "" {
		learnerID = event.AggregateID()
	}

	if previous < h.minStreak || !h.gate.admits(learnerID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return h.notifier.Notify(ctx, Notification{
		LearnerID: learnerID,
		Kind:      NotificationStreakBroken,
		Title:     "Your streak has ended",
		Body:      fmt.Sprintf("You had a %d-day streak. Study today to start a new one.", previous),
		At:        event.OccurredAt(),
	})
}
