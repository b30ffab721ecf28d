package shared

import "time"

// ═══════════════════════════════════════════════════════════════════════════
// Прогресс
// ═══════════════════════════════════════════════════════════════════════════

// TopicCompletedEvent выходит при каждом вызове завершения темы. Повторное
// прохождение тоже считается активностью, но с FirstTime=false.
type TopicCompletedEvent struct {
	BaseEvent
	LearnerID        string `json:"learner_id"`
	TopicID          string `json:"topic_id"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
	FirstTime        bool   `json:"first_time"`
	TotalCompleted   int    `json:"total_completed"`
}

func NewTopicCompletedEvent(learnerID, topicID string, timeSpent int, firstTime bool, total int, at time.Time) TopicCompletedEvent {
	return TopicCompletedEvent{
		BaseEvent:        NewBaseEvent(EventTopicCompleted, learnerID, at),
		LearnerID:        learnerID,
		TopicID:          topicID,
		TimeSpentSeconds: timeSpent,
		FirstTime:        firstTime,
		TotalCompleted:   total,
	}
}

func (e TopicCompletedEvent) Payload() map[string]any {
	return map[string]any{
		"learner_id":         e.LearnerID,
		"topic_id":           e.TopicID,
		"time_spent_seconds": e.TimeSpentSeconds,
		"first_time":         e.FirstTime,
		"total_completed":    e.TotalCompleted,
	}
}

// ContentViewedEvent: открыт протокол, гайдлайн, 3D модель или триггерная точка.
type ContentViewedEvent struct {
	BaseEvent
	LearnerID        string `json:"learner_id"`
	Kind             string `json:"kind"`
	RefID            string `json:"ref_id"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
	FirstTime        bool   `json:"first_time"`
}

func NewContentViewedEvent(learnerID, kind, refID string, timeSpent int, firstTime bool, at time.Time) ContentViewedEvent {
	return ContentViewedEvent{
		BaseEvent:        NewBaseEvent(EventContentViewed, learnerID, at),
		LearnerID:        learnerID,
		Kind:             kind,
		RefID:            refID,
		TimeSpentSeconds: timeSpent,
		FirstTime:        firstTime,
	}
}

func (e ContentViewedEvent) Payload() map[string]any {
	return map[string]any{
		"learner_id":         e.LearnerID,
		"kind":               e.Kind,
		"ref_id":             e.RefID,
		"time_spent_seconds": e.TimeSpentSeconds,
		"first_time":         e.FirstTime,
	}
}

// QuizRecordedEvent выходит на каждую попытку квиза.
type QuizRecordedEvent struct {
	BaseEvent
	LearnerID    string `json:"learner_id"`
	QuizID       string `json:"quiz_id"`
	Score        int    `json:"score"`
	Passed       bool   `json:"passed"`
	Mode         string `json:"mode"`
	AverageScore int    `json:"average_score"`
}

func NewQuizRecordedEvent(learnerID, quizID string, score int, passed bool, mode string, average int, at time.Time) QuizRecordedEvent {
	return QuizRecordedEvent{
		BaseEvent:    NewBaseEvent(EventQuizRecorded, learnerID, at),
		LearnerID:    learnerID,
		QuizID:       quizID,
		Score:        score,
		Passed:       passed,
		Mode:         mode,
		AverageScore: average,
	}
}

func (e QuizRecordedEvent) Payload() map[string]any {
	return map[string]any{
		"learner_id":    e.LearnerID,
		"quiz_id":       e.QuizID,
		"score":         e.Score,
		"passed":        e.Passed,
		"mode":          e.Mode,
		"average_score": e.AverageScore,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Серии
// ═══════════════════════════════════════════════════════════════════════════

// StreakUpdatedEvent: серия началась или выросла.
type StreakUpdatedEvent struct {
	BaseEvent
	LearnerID     string `json:"learner_id"`
	Streak        int    `json:"streak"`
	LongestStreak int    `json:"longest_streak"`
	IsNewRecord   bool   `json:"is_new_record"`
}

func NewStreakUpdatedEvent(learnerID string, streak, longest int, isNewRecord bool, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:     NewBaseEvent(EventStreakUpdated, learnerID, at),
		LearnerID:     learnerID,
		Streak:        streak,
		LongestStreak: longest,
		IsNewRecord:   isNewRecord,
	}
}

func (e StreakUpdatedEvent) Payload() map[string]any {
	return map[string]any{
		"learner_id":     e.LearnerID,
		"streak":         e.Streak,
		"longest_streak": e.LongestStreak,
		"is_new_record":  e.IsNewRecord,
	}
}

// StreakBrokenEvent: пропуск сбросил серию до единицы.
type StreakBrokenEvent struct {
	BaseEvent
	LearnerID      string `json:"learner_id"`
	PreviousStreak int    `json:"previous_streak"`
	DaysMissed     int    `json:"days_missed"`
}

func NewStreakBrokenEvent(learnerID string, previousStreak, daysMissed int, at time.Time) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, learnerID, at),
		LearnerID:      learnerID,
		PreviousStreak: previousStreak,
		DaysMissed:     daysMissed,
	}
}

func (e StreakBrokenEvent) Payload() map[string]any {
	return map[string]any{
		"learner_id":      e.LearnerID,
		"previous_streak": e.PreviousStreak,
		"days_missed":     e.DaysMissed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Достижения
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent выходит один раз на пару ученик-достижение и
// только после сохранения разблокировки.
type AchievementUnlockedEvent struct {
	BaseEvent
	LearnerID     string `json:"learner_id"`
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Icon          string `json:"icon"`
}

func NewAchievementUnlockedEvent(learnerID, achievementID, title, description, icon string, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, learnerID, at),
		LearnerID:     learnerID,
		AchievementID: achievementID,
		Title:         title,
		Description:   description,
		Icon:          icon,
	}
}

func (e AchievementUnlockedEvent) Payload() map[string]any {
	return map[string]any{
		"learner_id":     e.LearnerID,
		"achievement_id": e.AchievementID,
		"title":          e.Title,
		"description":    e.Description,
		"icon":           e.Icon,
	}
}
