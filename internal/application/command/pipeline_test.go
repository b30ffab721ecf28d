package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/internal/infrastructure/locking"
	"github.com/physiohub/progress-engine/internal/infrastructure/messaging"
	"github.com/physiohub/progress-engine/internal/infrastructure/metrics"
	"github.com/physiohub/progress-engine/internal/infrastructure/persistence/memory"
	"github.com/physiohub/progress-engine/pkg/timeutil"
)

var day0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo     *memory.ProgressRepository
	clock    *timeutil.FixedClock
	metrics  *metrics.Metrics
	pipeline *Pipeline

	mu     sync.Mutex
	events []shared.Event

	topics  *CompleteTopicHandler
	views   *ViewContentHandler
	quizzes *RecordQuizResultHandler
}

func newFixture(t *testing.T, mutate func(*PipelineConfig)) *fixture {
	t.Helper()

	f := &fixture{
		clock:   timeutil.NewFixedClock(day0),
		metrics: metrics.New(),
	}
	f.repo = memory.NewProgressRepository(f.clock)

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
	t.Cleanup(func() { _ = bus.Close() })
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
		return nil
	}))

	cfg := PipelineConfig{
		Repository: f.repo,
		Locker:     locking.NewKeyedLocker(),
		Publisher:  bus,
		Clock:      f.clock,
		Metrics:    f.metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f.pipeline = NewPipeline(cfg)
	f.topics = NewCompleteTopicHandler(f.pipeline)
	f.views = NewViewContentHandler(f.pipeline)
	f.quizzes = NewRecordQuizResultHandler(f.pipeline)
	return f
}

func (f *fixture) eventTypes() []shared.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]shared.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType())
	}
	return out
}

func (f *fixture) resetEvents() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

func achievementIDs(r *progress.Record) []progress.AchievementID {
	ids := make([]progress.AchievementID, 0, len(r.Achievements))
	for _, a := range r.Achievements {
		ids = append(ids, a.AchievementID)
	}
	return ids
}

func TestCompleteTopic_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1", TimeSpentSeconds: 120})
	require.NoError(t, err)
	require.Len(t, first.Unlocked, 1)
	assert.Equal(t, progress.AchievementFirstTopic, first.Unlocked[0].AchievementID)

	f.clock.Advance(time.Hour)
	second, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1", TimeSpentSeconds: 30})
	require.NoError(t, err)

	rec := second.Record
	assert.Len(t, rec.CompletedTopics, 1)
	assert.Equal(t, day0, rec.CompletedTopics[0].CompletedAt)
	assert.Equal(t, 1, rec.Stats.TotalTopicsCompleted)
	assert.Equal(t, 150, rec.Stats.TotalStudyTimeSeconds)
	assert.Equal(t, day0.Add(time.Hour), rec.Stats.LastActivityDate)
	assert.Equal(t, []progress.AchievementID{progress.AchievementFirstTopic}, achievementIDs(rec))
	assert.Empty(t, second.Unlocked)

	stored, err := f.repo.Get(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, stored.Version)
	assert.Len(t, stored.Achievements, 1)
}

func TestCommands_TrimPaddedIDs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1"})
	require.NoError(t, err)
	res, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1 ", TopicID: " t1"})
	require.NoError(t, err)
	assert.Len(t, res.Record.CompletedTopics, 1)

	_, err = f.views.Handle(ctx, ViewContentCommand{LearnerID: "\tlearner-1", Kind: progress.ContentProtocol, RefID: " p1 "})
	require.NoError(t, err)
	_, err = f.quizzes.Handle(ctx, RecordQuizResultCommand{LearnerID: " learner-1", QuizID: "q1 ", Score: 80, TotalQuestions: 5, CorrectAnswers: 4})
	require.NoError(t, err)

	assert.Equal(t, 1, f.repo.Len())
	rec, err := f.repo.Get(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ViewedProtocols[0].RefID)
	assert.Equal(t, "q1", rec.CompletedQuizzes[0].QuizID)
	for _, e := range f.events {
		assert.Equal(t, "learner-1", e.AggregateID())
	}
}

func TestViewContent_EachKindHasOwnCollection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	kinds := []progress.ContentKind{
		progress.ContentProtocol,
		progress.ContentGuideline,
		progress.ContentModel3D,
		progress.ContentTriggerPoint,
	}
	var res *Result
	for _, k := range kinds {
		var err error
		res, err = f.views.Handle(ctx, ViewContentCommand{LearnerID: "learner-1", Kind: k, RefID: "same-id"})
		require.NoError(t, err)
	}
	_, err := f.views.Handle(ctx, ViewContentCommand{LearnerID: "learner-1", Kind: progress.ContentProtocol, RefID: "same-id"})
	require.NoError(t, err)

	rec, err := f.repo.Get(ctx, "learner-1")
	require.NoError(t, err)
	for _, k := range kinds {
		assert.Equal(t, 1, rec.ContentCount(k), k)
	}
	assert.Zero(t, res.Record.Stats.TotalTopicsCompleted)
}

func TestViewContent_RejectsTopicKind(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.views.Handle(context.Background(), ViewContentCommand{LearnerID: "learner-1", Kind: progress.ContentTopic, RefID: "t1"})
	assert.ErrorIs(t, err, shared.ErrInvalidContentKind)
	assert.Zero(t, f.repo.Len())
}

func TestRecordQuizResult_Stats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var res *Result
	for i, score := range []int{50, 70, 90} {
		var err error
		res, err = f.quizzes.Handle(ctx, RecordQuizResultCommand{
			LearnerID:      "learner-1",
			QuizID:         "quiz-1",
			Score:          score,
			TotalQuestions: 10,
			CorrectAnswers: score / 10,
			Mode:           []string{"", "practice", "exam"}[i],
		})
		require.NoError(t, err)
	}

	rec := res.Record
	assert.Len(t, rec.CompletedQuizzes, 3)
	assert.Equal(t, 2, rec.Stats.TotalQuizzesPassed)
	assert.Equal(t, 70, rec.Stats.AverageQuizScore)
	assert.Equal(t, progress.QuizModePractice, rec.CompletedQuizzes[0].Mode)
	assert.Equal(t, progress.QuizModeExam, rec.CompletedQuizzes[2].Mode)
	assert.Equal(t, []progress.AchievementID{progress.AchievementFirstQuiz}, achievementIDs(rec))
}

func TestRecordQuizResult_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := map[string]RecordQuizResultCommand{
		"score above 100":       {LearnerID: "l", QuizID: "q", Score: 101},
		"negative score":        {LearnerID: "l", QuizID: "q", Score: -1},
		"correct above total":   {LearnerID: "l", QuizID: "q", Score: 50, TotalQuestions: 2, CorrectAnswers: 3},
		"negative time":         {LearnerID: "l", QuizID: "q", Score: 50, TimeSpentSeconds: -5},
		"unknown mode":          {LearnerID: "l", QuizID: "q", Score: 50, Mode: "ranked"},
		"missing quiz id":       {LearnerID: "l", Score: 50},
		"missing learner":       {QuizID: "q", Score: 50},
		"whitespace learner id": {LearnerID: "a b", QuizID: "q", Score: 50},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.quizzes.Handle(ctx, cmd)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err), err)
		})
	}
	assert.Zero(t, f.repo.Len())
}

func TestCompleteTopic_NegativeTimeRejected(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.topics.Handle(context.Background(), CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1", TimeSpentSeconds: -1})
	assert.ErrorIs(t, err, shared.ErrInvalidTimeSpent)
	assert.True(t, shared.IsValidation(err))
	assert.Zero(t, f.repo.Len())
}

func TestPipeline_TenDayScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	const learner = "learner-1"

	var last *Result
	for day := 1; day <= 10; day++ {
		id := fmt.Sprintf("%02d", day)

		_, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: learner, TopicID: "topic-" + id, TimeSpentSeconds: 60})
		require.NoError(t, err)
		_, err = f.views.Handle(ctx, ViewContentCommand{LearnerID: learner, Kind: progress.ContentProtocol, RefID: "protocol-" + id, TimeSpentSeconds: 60})
		require.NoError(t, err)
		last, err = f.quizzes.Handle(ctx, RecordQuizResultCommand{
			LearnerID: learner, QuizID: "quiz-" + id, Score: 95,
			TotalQuestions: 20, CorrectAnswers: 19, TimeSpentSeconds: 60,
		})
		require.NoError(t, err)

		assert.Equal(t, day, last.Record.Stats.Streak, "day %d", day)
		f.clock.Advance(timeutil.Day)
	}

	rec := last.Record
	assert.Equal(t, 10, rec.Stats.Streak)
	assert.Equal(t, 10, rec.Stats.LongestStreak)
	assert.Equal(t, 10, rec.Stats.TotalTopicsCompleted)
	assert.Equal(t, 10, rec.Stats.TotalQuizzesPassed)
	assert.Equal(t, 95, rec.Stats.AverageQuizScore)
	assert.Equal(t, 30*60, rec.Stats.TotalStudyTimeSeconds)
	assert.Equal(t, []progress.AchievementID{
		progress.AchievementFirstTopic,
		progress.AchievementFirstQuiz,
		progress.AchievementExcellentStudent,
		progress.Achievement7DayStreak,
		progress.Achievement10Topics,
		progress.Achievement10Protocols,
		progress.Achievement10Quizzes,
	}, achievementIDs(rec))

	seven := rec.Achievements[3]
	assert.Equal(t, day0.Add(6*timeutil.Day), seven.UnlockedAt)
	assert.Equal(t, "Week Warrior", seven.Title)
}

func TestPipeline_StreakResetAndEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cmd := CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1"}

	_, err := f.topics.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, []shared.EventType{
		shared.EventTopicCompleted,
		shared.EventStreakUpdated,
		shared.EventAchievementUnlocked,
	}, f.eventTypes())

	f.clock.Advance(timeutil.Day)
	res, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Record.Stats.Streak)

	f.resetEvents()
	f.clock.Advance(3 * timeutil.Day)
	res, err = f.topics.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, progress.StreakReset, res.Streak.Transition)
	assert.Equal(t, 1, res.Record.Stats.Streak)
	assert.Equal(t, 2, res.Record.Stats.LongestStreak)
	assert.Equal(t, []shared.EventType{
		shared.EventTopicCompleted,
		shared.EventStreakBroken,
		shared.EventStreakUpdated,
	}, f.eventTypes())

	f.mu.Lock()
	broken := f.events[1].Payload()
	f.mu.Unlock()
	assert.Equal(t, 2, broken["previous_streak"])
	assert.Equal(t, 2, broken["days_missed"])
}

func TestPipeline_ClockSkewKeepsState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1"})
	require.NoError(t, err)

	f.clock.Set(day0.Add(-2 * timeutil.Day))
	res, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t2"})
	require.NoError(t, err)

	assert.Equal(t, progress.StreakClockSkew, res.Streak.Transition)
	assert.Equal(t, 1, res.Record.Stats.Streak)
	assert.Equal(t, day0, res.Record.Stats.LastActivityDate)
	assert.Len(t, res.Record.CompletedTopics, 2)
}

func TestPipeline_AchievementPersistFailureIsNonFatal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	boom := errors.New("disk full")

	f.repo.FailSaveWith(func(rec *progress.Record) error {
		if len(rec.Achievements) > 0 {
			return boom
		}
		return nil
	})

	res, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Empty(t, res.Record.Achievements)
	assert.Len(t, res.Record.CompletedTopics, 1)

	stored, err := f.repo.Get(ctx, "learner-1")
	require.NoError(t, err)
	assert.Len(t, stored.CompletedTopics, 1)
	assert.Empty(t, stored.Achievements)
	assert.NotContains(t, f.eventTypes(), shared.EventAchievementUnlocked)

	expected := `
# HELP progress_achievement_persist_failures_total Unlock batches that could not be saved after the primary write.
# TYPE progress_achievement_persist_failures_total counter
progress_achievement_persist_failures_total 1
`
	require.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected),
		"progress_achievement_persist_failures_total"))

	// The rule is level-triggered: the next successful save picks it up.
	f.repo.FailSaveWith(nil)
	res, err = f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, []progress.AchievementID{progress.AchievementFirstTopic}, achievementIDs(res.Record))
}

func TestPipeline_PrimarySaveFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.repo.GetOrCreate(ctx, "learner-1")
	require.NoError(t, err)

	outage := shared.WrapError("store", "Save", shared.ErrUnavailable, "db down", errors.New("dial tcp"))
	f.repo.FailSaveWith(func(*progress.Record) error { return outage })

	_, err = f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1"})
	require.Error(t, err)
	assert.True(t, shared.IsUnavailable(err))
	assert.Empty(t, f.eventTypes())
}

func TestPipeline_ExactPolicyMissesJump(t *testing.T) {
	f := newFixture(t, func(cfg *PipelineConfig) {
		cfg.Achievements = progress.NewAchievementEngine(progress.PolicyExact)
	})
	ctx := context.Background()

	// Nine topics, then two land in one save (e.g. an offline batch sync).
	for i := 1; i <= 9; i++ {
		_, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: fmt.Sprintf("t%d", i)})
		require.NoError(t, err)
	}
	_, err := f.pipeline.run(ctx, mutation{
		op:        "bulk_import",
		learnerID: "learner-1",
		apply: func(rec *progress.Record, now time.Time) (int, error) {
			_, _ = rec.RecordContent(progress.ContentTopic, "t10", 0, now)
			_, _ = rec.RecordContent(progress.ContentTopic, "t11", 0, now)
			return 0, nil
		},
		events: func(*progress.Record, time.Time) []shared.Event { return nil },
	})
	require.NoError(t, err)

	rec, err := f.repo.Get(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 11, rec.Stats.TotalTopicsCompleted)
	assert.False(t, rec.HasAchievement(progress.Achievement10Topics))
	assert.True(t, rec.HasAchievement(progress.AchievementFirstTopic))
}

func TestPipeline_ConcurrentWritersAllSurvive(t *testing.T) {
	for _, tc := range []struct {
		name   string
		locked bool
	}{
		{"keyed lock", true},
		{"optimistic only", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(cfg *PipelineConfig) {
				if !tc.locked {
					cfg.Locker = nil
					cfg.MaxAttempts = 100
				}
			})
			ctx := context.Background()
			const n = 8

			var wg sync.WaitGroup
			errs := make(chan error, 2*n)
			for i := 0; i < n; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					_, err := f.topics.Handle(ctx, CompleteTopicCommand{LearnerID: "learner-1", TopicID: fmt.Sprintf("t%d", i)})
					errs <- err
				}(i)
				go func(i int) {
					defer wg.Done()
					_, err := f.quizzes.Handle(ctx, RecordQuizResultCommand{LearnerID: "learner-1", QuizID: fmt.Sprintf("q%d", i), Score: 80})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			rec, err := f.repo.Get(ctx, "learner-1")
			require.NoError(t, err)
			assert.Len(t, rec.CompletedTopics, n)
			assert.Len(t, rec.CompletedQuizzes, n)
			assert.Equal(t, n, rec.Stats.TotalTopicsCompleted)
			assert.Equal(t, n, rec.Stats.TotalQuizzesPassed)
			assert.Equal(t, 1, rec.Stats.Streak)
			assert.True(t, rec.HasAchievement(progress.AchievementFirstTopic))
			assert.True(t, rec.HasAchievement(progress.AchievementFirstQuiz))
		})
	}
}

func TestPipeline_LockFailureAborts(t *testing.T) {
	f := newFixture(t, func(cfg *PipelineConfig) {
		cfg.Locker = lockerFunc(func(context.Context, string) (func(), error) {
			return nil, shared.ErrLockNotAcquired
		})
	})

	_, err := f.topics.Handle(context.Background(), CompleteTopicCommand{LearnerID: "learner-1", TopicID: "t1"})
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
	assert.Zero(t, f.repo.Len())
}

type lockerFunc func(ctx context.Context, learnerID string) (func(), error)

func (f lockerFunc) Lock(ctx context.Context, learnerID string) (func(), error) {
	return f(ctx, learnerID)
}
