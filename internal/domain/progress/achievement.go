package progress

import (
	"time"

	"github.com/physiohub/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS (Достижения)
// ══════════════════════════════════════════════════════════════════════════════

// AchievementID - идентификатор достижения. Набор закрыт.
type AchievementID string

const (
	AchievementFirstTopic       AchievementID = "first-topic"
	Achievement10Topics         AchievementID = "10-topics"
	Achievement50Topics         AchievementID = "50-topics"
	AchievementFirstQuiz        AchievementID = "first-quiz"
	Achievement10Quizzes        AchievementID = "10-quizzes"
	Achievement7DayStreak       AchievementID = "7-day-streak"
	Achievement30DayStreak      AchievementID = "30-day-streak"
	AchievementExcellentStudent AchievementID = "excellent-student"
	Achievement10Protocols      AchievementID = "10-protocols"
)

// String возвращает строковое представление.
func (id AchievementID) String() string {
	return string(id)
}

// AchievementPolicy задаёт сравнение счётчика с порогом.
type AchievementPolicy string

const (
	// PolicyThreshold - счётчик >= порога. Не пропускает достижение,
	// если счётчик перескочил порог за одно обновление.
	PolicyThreshold AchievementPolicy = "threshold"
	// PolicyExact - счётчик == порогу.
	PolicyExact AchievementPolicy = "exact"
)

// ParseAchievementPolicy разбирает политику; пустая строка означает threshold.
func ParseAchievementPolicy(s string) (AchievementPolicy, error) {
	switch AchievementPolicy(s) {
	case "", PolicyThreshold:
		return PolicyThreshold, nil
	case PolicyExact:
		return PolicyExact, nil
	}
	return "", shared.ErrInvalidPolicy
}

// reached сравнивает значение с порогом согласно политике.
func (p AchievementPolicy) reached(value, target int) bool {
	if p == PolicyExact {
		return value == target
	}
	return value >= target
}

// AchievementDefinition описывает достижение и его правило.
type AchievementDefinition struct {
	ID          AchievementID `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`

	rule func(s Snapshot, p AchievementPolicy) bool
}

// Satisfied проверяет правило на снимке статистики.
func (d AchievementDefinition) Satisfied(s Snapshot, p AchievementPolicy) bool {
	return d.rule(s, p)
}

// definitions - фиксированный порядок проверки и выдачи.
var definitions = []AchievementDefinition{
	{
		ID: AchievementFirstTopic, Title: "First Steps", Description: "Completed your first topic", Icon: "🎯",
		rule: func(s Snapshot, p AchievementPolicy) bool { return p.reached(s.TopicsCompleted, 1) },
	},
	{
		ID: Achievement10Topics, Title: "Knowledge Seeker", Description: "Completed 10 topics", Icon: "📚",
		rule: func(s Snapshot, p AchievementPolicy) bool { return p.reached(s.TopicsCompleted, 10) },
	},
	{
		ID: Achievement50Topics, Title: "Scholar", Description: "Completed 50 topics", Icon: "🎓",
		rule: func(s Snapshot, p AchievementPolicy) bool { return p.reached(s.TopicsCompleted, 50) },
	},
	{
		ID: AchievementFirstQuiz, Title: "Quiz Taker", Description: "Passed your first quiz", Icon: "✅",
		rule: func(s Snapshot, p AchievementPolicy) bool { return p.reached(s.QuizzesPassed, 1) },
	},
	{
		ID: Achievement10Quizzes, Title: "Quiz Master", Description: "Passed 10 quizzes", Icon: "🏆",
		rule: func(s Snapshot, p AchievementPolicy) bool { return p.reached(s.QuizzesPassed, 10) },
	},
	{
		ID: Achievement7DayStreak, Title: "Week Warrior", Description: "Studied 7 days in a row", Icon: "🔥",
		rule: func(s Snapshot, p AchievementPolicy) bool { return p.reached(s.Streak, 7) },
	},
	{
		ID: Achievement30DayStreak, Title: "Unstoppable", Description: "Studied 30 days in a row", Icon: "💪",
		rule: func(s Snapshot, p AchievementPolicy) bool { return p.reached(s.Streak, 30) },
	},
	{
		ID: AchievementExcellentStudent, Title: "Excellent Student", Description: "Average quiz score of 90 or more across at least 5 passed quizzes", Icon: "⭐",
		// Порог по обоим условиям при любой политике.
		rule: func(s Snapshot, _ AchievementPolicy) bool { return s.AverageQuizScore >= 90 && s.QuizzesPassed >= 5 },
	},
	{
		ID: Achievement10Protocols, Title: "Protocol Expert", Description: "Viewed 10 clinical protocols", Icon: "📋",
		rule: func(s Snapshot, p AchievementPolicy) bool { return p.reached(s.ProtocolsViewed, 10) },
	},
}

// Definitions возвращает копию каталога достижений в порядке проверки.
func Definitions() []AchievementDefinition {
	out := make([]AchievementDefinition, len(definitions))
	copy(out, definitions)
	return out
}

// DefinitionFor возвращает определение по идентификатору.
func DefinitionFor(id AchievementID) (AchievementDefinition, bool) {
	for _, d := range definitions {
		if d.ID == id {
			return d, true
		}
	}
	return AchievementDefinition{}, false
}

// AchievementEngine оценивает правила и выдаёт каждое достижение не более одного раза.
type AchievementEngine struct {
	policy AchievementPolicy
}

// NewAchievementEngine создаёт движок достижений.
func NewAchievementEngine(policy AchievementPolicy) AchievementEngine {
	if policy == "" {
		policy = PolicyThreshold
	}
	return AchievementEngine{policy: policy}
}

// Policy возвращает политику сравнения.
func (e AchievementEngine) Policy() AchievementPolicy {
	return e.policy
}

// Evaluate добавляет в документ новые достижения и возвращает их.
// Уже полученные достижения не проверяются и никогда не удаляются.
func (e AchievementEngine) Evaluate(r *Record, now time.Time) []UnlockedAchievement {
	snap := r.Snapshot()

	var unlocked []UnlockedAchievement
	for _, d := range definitions {
		if r.HasAchievement(d.ID) || !d.Satisfied(snap, e.policy) {
			continue
		}
		a := UnlockedAchievement{
			AchievementID: d.ID,
			UnlockedAt:    now,
			Title:         d.Title,
			Description:   d.Description,
			Icon:          d.Icon,
		}
		r.Achievements = append(r.Achievements, a)
		unlocked = append(unlocked, a)
	}
	return unlocked
}
