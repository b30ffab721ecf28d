// Package eventhandler содержит обработчики доменных событий.
// Обработчики реагируют на изменения прогресса и запускают побочные
// эффекты (уведомления). Движок прогресса не ждёт их результата.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER
// Точка расширения для доставки уведомлений (push, email, мессенджер).
// ══════════════════════════════════════════════════════════════════════════════

// NotificationKind классифицирует уведомление.
type NotificationKind string

const (
	NotificationAchievement  NotificationKind = "achievement"
	NotificationStreakBroken NotificationKind = "streak_broken"
)

// Notification - сообщение для слушателя.
type Notification struct {
	LearnerID string
	Kind      NotificationKind
	Title     string
	Body      string
	Icon      string
	At        time.Time
}

// Notifier доставляет уведомления.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Gate решает, получает ли слушатель уведомление (feature flags, rollout).
// nil пропускает всех.
type Gate func(learnerID string) bool

func (g Gate) admits(learnerID string) bool {
	return g == nil || g(learnerID)
}

// LogNotifier пишет уведомления в лог. Используется, когда канал доставки
// не настроен.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &LogNotifier{log: log.With(logger.Component("notifier"))}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.log.Info("notification",
		logger.LearnerID(msg.LearnerID),
		logger.String("kind", string(msg.Kind)),
		logger.String("title", msg.Title),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT UNLOCKED
// ══════════════════════════════════════════════════════════════════════════════

// OnAchievementUnlockedHandler поздравляет слушателя с новым достижением.
type OnAchievementUnlockedHandler struct {
	notifier Notifier
	gate     Gate
	timeout  time.Duration
	log      *logger.Logger
}

// NewOnAchievementUnlockedHandler creates the handler. A nil notifier logs only.
func NewOnAchievementUnlockedHandler(notifier Notifier, log *logger.Logger) *OnAchievementUnlockedHandler {
	if log == nil {
		log = logger.Nop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	return &OnAchievementUnlockedHandler{
		notifier: notifier,
		timeout:  5 * time.Second,
		log:      log.With(logger.Component("on_achievement_unlocked")),
	}
}

// SetGate restricts notifications to learners the gate admits.
func (h *OnAchievementUnlockedHandler) SetGate(g Gate) {
	h.gate = g
}

// Register subscribes the handler on the bus.
func (h *OnAchievementUnlockedHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventAchievementUnlocked, h.Handle)
}

// Handle implements shared.EventHandler.
// Принимает как типизированное событие, так и событие, полученное от
// другого экземпляра через Redis (только Payload).
func (h *OnAchievementUnlockedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventAchievementUnlocked {
		h.log.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	var n Notification
	if e, ok := event.(shared.AchievementUnlockedEvent); ok {
		n = Notification{LearnerID: e.LearnerID, Title: e.Title, Body: e.Description, Icon: e.Icon}
	} else {
		p := event.Payload()
		n = Notification{
			LearnerID: payloadString(p, "learner_id"),
			Title:     payloadString(p, "title"),
			Body:      payloadString(p, "description"),
			Icon:      payloadString(p, "icon"),
		}
	}
	if n.LearnerID == "" {
		n.LearnerID = event.AggregateID()
	}
	if !h.gate.admits(n.LearnerID) {
		return nil
	}
	n.Kind = NotificationAchievement
	n.At = event.OccurredAt()
	n.Title = fmt.Sprintf("Achievement unlocked: %s", n.Title)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.notifier.Notify(ctx, n); err != nil {
		h.log.Error("failed to send achievement notification",
			logger.LearnerID(n.LearnerID), logger.Err(err))
		return err
	}
	return nil
}

func payloadString(p map[string]interface{}, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(p map[string]interface{}, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
