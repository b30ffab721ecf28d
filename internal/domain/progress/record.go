package progress

import (
	"time"

	"github.com/physiohub/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ContentKind - вид учебного материала.
type ContentKind string

const (
	ContentTopic        ContentKind = "topic"
	ContentProtocol     ContentKind = "protocol"
	ContentGuideline    ContentKind = "guideline"
	ContentModel3D      ContentKind = "model_3d"
	ContentTriggerPoint ContentKind = "trigger_point"
)

// ContentKinds возвращает все виды материалов в фиксированном порядке.
func ContentKinds() []ContentKind {
	return []ContentKind{ContentTopic, ContentProtocol, ContentGuideline, ContentModel3D, ContentTriggerPoint}
}

// IsValid проверяет, что вид материала известен.
func (k ContentKind) IsValid() bool {
	switch k {
	case ContentTopic, ContentProtocol, ContentGuideline, ContentModel3D, ContentTriggerPoint:
		return true
	}
	return false
}

// String возвращает строковое представление.
func (k ContentKind) String() string {
	return string(k)
}

// QuizMode - режим прохождения теста.
type QuizMode string

const (
	QuizModePractice QuizMode = "practice"
	QuizModeExam     QuizMode = "exam"
)

// IsValid проверяет режим теста.
func (m QuizMode) IsValid() bool {
	return m == QuizModePractice || m == QuizModeExam
}

// ParseQuizMode разбирает режим; пустая строка означает practice.
func ParseQuizMode(s string) (QuizMode, error) {
	if s == "" {
		return QuizModePractice, nil
	}
	m := QuizMode(s)
	if !m.IsValid() {
		return "", shared.ErrInvalidQuizMode
	}
	return m, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RAW EVENT COLLECTIONS
// ══════════════════════════════════════════════════════════════════════════════

// TopicCompletion - факт завершения темы. Уникален по TopicID.
type TopicCompletion struct {
	TopicID          string    `json:"topicId"`
	CompletedAt      time.Time `json:"completedAt"`
	TimeSpentSeconds int       `json:"timeSpent"`
}

// ContentView - факт просмотра материала. Уникален по RefID внутри коллекции.
type ContentView struct {
	RefID            string    `json:"refId"`
	ViewedAt         time.Time `json:"viewedAt"`
	TimeSpentSeconds int       `json:"timeSpent,omitempty"`
}

// QuizAttempt - одна попытка теста. Повторные попытки сохраняются все.
type QuizAttempt struct {
	QuizID           string    `json:"quizId"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"totalQuestions"`
	CorrectAnswers   int       `json:"correctAnswers"`
	CompletedAt      time.Time `json:"completedAt"`
	TimeSpentSeconds int       `json:"timeSpent"`
	Mode             QuizMode  `json:"mode"`
}

// Passed сообщает, засчитан ли тест.
func (a QuizAttempt) Passed() bool {
	return a.Score >= PassingScore
}

// NewQuizAttemptParams - параметры попытки теста.
type NewQuizAttemptParams struct {
	QuizID           string
	Score            int
	TotalQuestions   int
	CorrectAnswers   int
	TimeSpentSeconds int
	Mode             string
	CompletedAt      time.Time
}

// NewQuizAttempt создаёт попытку с валидацией.
func NewQuizAttempt(p NewQuizAttemptParams) (QuizAttempt, error) {
	ref, err := shared.NewContentRef(p.QuizID)
	if err != nil {
		return QuizAttempt{}, err
	}
	score, err := shared.NewScore(p.Score)
	if err != nil {
		return QuizAttempt{}, err
	}
	if p.TotalQuestions < 0 || p.CorrectAnswers < 0 || p.CorrectAnswers > p.TotalQuestions {
		return QuizAttempt{}, shared.ErrInvalidAnswerCount
	}
	spent, err := shared.NewSeconds(p.TimeSpentSeconds)
	if err != nil {
		return QuizAttempt{}, err
	}
	mode, err := ParseQuizMode(p.Mode)
	if err != nil {
		return QuizAttempt{}, err
	}

	return QuizAttempt{
		QuizID:           ref.String(),
		Score:            score.Int(),
		TotalQuestions:   p.TotalQuestions,
		CorrectAnswers:   p.CorrectAnswers,
		CompletedAt:      p.CompletedAt,
		TimeSpentSeconds: spent.Int(),
		Mode:             mode,
	}, nil
}

// UnlockedAchievement - полученное достижение. Запись однократная.
type UnlockedAchievement struct {
	AchievementID AchievementID `json:"achievementId"`
	UnlockedAt    time.Time     `json:"unlockedAt"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Icon          string        `json:"icon"`
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats - производный снимок статистики.
type Stats struct {
	// TotalStudyTimeSeconds - накопленное время занятий, включая повторные визиты.
	TotalStudyTimeSeconds int `json:"totalStudyTime"`

	// Streak - текущая серия дней активности.
	Streak int `json:"streak"`

	// LongestStreak - лучшая серия. Всегда >= Streak.
	LongestStreak int `json:"longestStreak"`

	// LastActivityDate - время последней активности.
	LastActivityDate time.Time `json:"lastActivityDate"`

	// Поля ниже пересчитываются из коллекций (RecomputeStats).
	TotalTopicsCompleted int `json:"totalTopicsCompleted"`
	TotalQuizzesPassed   int `json:"totalQuizzesPassed"`
	AverageQuizScore     int `json:"averageQuizScore"`
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE
// ══════════════════════════════════════════════════════════════════════════════

// Record - агрегат прогресса одного слушателя.
type Record struct {
	ID        string `json:"id"`
	LearnerID string `json:"learnerId"`

	CompletedTopics     []TopicCompletion     `json:"completedTopics"`
	ViewedProtocols     []ContentView         `json:"viewedProtocols"`
	ViewedGuidelines    []ContentView         `json:"viewedGuidelines"`
	Viewed3DModels      []ContentView         `json:"viewed3DModels"`
	ViewedTriggerPoints []ContentView         `json:"viewedTriggerPoints"`
	CompletedQuizzes    []QuizAttempt         `json:"completedQuizzes"`
	Achievements        []UnlockedAchievement `json:"achievements"`

	Stats Stats `json:"stats"`

	// Version - номер версии для оптимистичной блокировки.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord создаёт пустой документ прогресса.
// lastActivityDate инициализируется моментом создания.
func NewRecord(id, learnerID string, now time.Time) *Record {
	return &Record{
		ID:                  id,
		LearnerID:           learnerID,
		CompletedTopics:     []TopicCompletion{},
		ViewedProtocols:     []ContentView{},
		ViewedGuidelines:    []ContentView{},
		Viewed3DModels:      []ContentView{},
		ViewedTriggerPoints: []ContentView{},
		CompletedQuizzes:    []QuizAttempt{},
		Achievements:        []UnlockedAchievement{},
		Stats:               Stats{LastActivityDate: now},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// views возвращает коллекцию просмотров для вида материала.
func (r *Record) views(kind ContentKind) *[]ContentView {
	switch kind {
	case ContentProtocol:
		return &r.ViewedProtocols
	case ContentGuideline:
		return &r.ViewedGuidelines
	case ContentModel3D:
		return &r.Viewed3DModels
	case ContentTriggerPoint:
		return &r.ViewedTriggerPoints
	}
	return nil
}

// HasContent проверяет, есть ли материал в соответствующей коллекции.
func (r *Record) HasContent(kind ContentKind, refID string) bool {
	if kind == ContentTopic {
		for _, t := range r.CompletedTopics {
			if t.TopicID == refID {
				return true
			}
		}
		return false
	}
	if v := r.views(kind); v != nil {
		for _, item := range *v {
			if item.RefID == refID {
				return true
			}
		}
	}
	return false
}

// ContentCount возвращает размер коллекции для вида материала.
func (r *Record) ContentCount(kind ContentKind) int {
	if kind == ContentTopic {
		return len(r.CompletedTopics)
	}
	if v := r.views(kind); v != nil {
		return len(*v)
	}
	return 0
}

// RecordContent добавляет событие прохождения/просмотра, если материала ещё
// нет в коллекции. Возвращает true, если запись добавлена.
// Статистику и серию не трогает: см. ApplyActivity.
func (r *Record) RecordContent(kind ContentKind, refID string, timeSpent int, at time.Time) (bool, error) {
	if !kind.IsValid() {
		return false, shared.ErrInvalidContentKind
	}
	ref, err := shared.NewContentRef(refID)
	if err != nil {
		return false, err
	}
	refID = ref.String()
	if timeSpent < 0 {
		return false, shared.ErrInvalidTimeSpent
	}
	if r.HasContent(kind, refID) {
		return false, nil
	}

	if kind == ContentTopic {
		r.CompletedTopics = append(r.CompletedTopics, TopicCompletion{
			TopicID:          refID,
			CompletedAt:      at,
			TimeSpentSeconds: timeSpent,
		})
		return true, nil
	}

	v := r.views(kind)
	*v = append(*v, ContentView{
		RefID:            refID,
		ViewedAt:         at,
		TimeSpentSeconds: timeSpent,
	})
	return true, nil
}

// AddQuizAttempt безусловно добавляет попытку теста.
func (r *Record) AddQuizAttempt(a QuizAttempt) {
	r.CompletedQuizzes = append(r.CompletedQuizzes, a)
}

// HasAchievement проверяет, получено ли достижение.
func (r *Record) HasAchievement(id AchievementID) bool {
	for _, a := range r.Achievements {
		if a.AchievementID == id {
			return true
		}
	}
	return false
}

// ApplyActivity фиксирует активность: добавляет время занятий, пересчитывает
// статистику, обновляет серию относительно предыдущей даты активности и
// только потом сдвигает lastActivityDate.
func (r *Record) ApplyActivity(streaks StreakEngine, timeSpent int, now time.Time) StreakResult {
	previous := r.Stats.LastActivityDate

	r.Stats.TotalStudyTimeSeconds += timeSpent
	RecomputeStats(r)

	var result StreakResult
	r.Stats, result = streaks.Update(r.Stats, previous, now)

	// Запрос из "прошлого" не откатывает дату активности назад.
	if now.After(previous) {
		r.Stats.LastActivityDate = now
	}
	r.UpdatedAt = now

	return result
}

// Clone возвращает глубокую копию документа.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.CompletedTopics = append([]TopicCompletion{}, r.CompletedTopics...)
	c.ViewedProtocols = append([]ContentView{}, r.ViewedProtocols...)
	c.ViewedGuidelines = append([]ContentView{}, r.ViewedGuidelines...)
	c.Viewed3DModels = append([]ContentView{}, r.Viewed3DModels...)
	c.ViewedTriggerPoints = append([]ContentView{}, r.ViewedTriggerPoints...)
	c.CompletedQuizzes = append([]QuizAttempt{}, r.CompletedQuizzes...)
	c.Achievements = append([]UnlockedAchievement{}, r.Achievements...)
	return &c
}
