package progress

import (
	"testing"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordContent_IsIdempotentPerKind(t *testing.T) {
	r := NewRecord("rec-1", "learner-1", day0)

	for _, kind := range ContentKinds() {
		added, err := r.RecordContent(kind, "ref-1", 60, day0)
		require.NoError(t, err)
		assert.True(t, added, kind)

		added, err = r.RecordContent(kind, "ref-1", 60, day0.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, added, kind)

		assert.Equal(t, 1, r.ContentCount(kind), kind)
	}

	// The same ref in another collection is a different item.
	assert.True(t, r.HasContent(ContentProtocol, "ref-1"))
	assert.False(t, r.HasContent(ContentProtocol, "ref-2"))
}

func TestRecordContent_Validation(t *testing.T) {
	r := NewRecord("rec-1", "learner-1", day0)

	_, err := r.RecordContent(ContentKind("video"), "ref-1", 0, day0)
	assert.ErrorIs(t, err, shared.ErrInvalidContentKind)

	_, err = r.RecordContent(ContentTopic, "", 0, day0)
	assert.ErrorIs(t, err, shared.ErrInvalidContentID)

	_, err = r.RecordContent(ContentTopic, "t1", -5, day0)
	assert.ErrorIs(t, err, shared.ErrInvalidTimeSpent)
}

func TestRecordContent_TrimsRef(t *testing.T) {
	r := NewRecord("rec-1", "learner-1", day0)

	added, err := r.RecordContent(ContentTopic, " t3", 0, day0)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = r.RecordContent(ContentTopic, "t3", 0, day0)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, "t3", r.CompletedTopics[0].TopicID)
}

func TestNewRecord_StartsEmpty(t *testing.T) {
	r := NewRecord("rec-1", "learner-1", day0)

	assert.Empty(t, r.CompletedTopics)
	assert.NotNil(t, r.CompletedQuizzes)
	assert.Equal(t, day0, r.Stats.LastActivityDate)
	assert.Zero(t, r.Stats.Streak)
	assert.Zero(t, r.Version)
}

func TestNewQuizAttempt(t *testing.T) {
	a, err := NewQuizAttempt(NewQuizAttemptParams{QuizID: "q1", Score: 80, TotalQuestions: 10, CorrectAnswers: 8})
	require.NoError(t, err)
	assert.Equal(t, QuizModePractice, a.Mode)
	assert.True(t, a.Passed())

	_, err = NewQuizAttempt(NewQuizAttemptParams{QuizID: "q1", Score: 120})
	assert.ErrorIs(t, err, shared.ErrInvalidScore)

	_, err = NewQuizAttempt(NewQuizAttemptParams{QuizID: "q1", Score: 50, TotalQuestions: 4, CorrectAnswers: 5})
	assert.ErrorIs(t, err, shared.ErrInvalidAnswerCount)

	_, err = NewQuizAttempt(NewQuizAttemptParams{QuizID: "q1", Score: 50, Mode: "timed"})
	assert.ErrorIs(t, err, shared.ErrInvalidQuizMode)

	_, err = NewQuizAttempt(NewQuizAttemptParams{QuizID: "q1", Score: 50, TimeSpentSeconds: -1})
	assert.ErrorIs(t, err, shared.ErrInvalidTimeSpent)
}

func TestClone_IsDeep(t *testing.T) {
	r := NewRecord("rec-1", "learner-1", day0)
	_, _ = r.RecordContent(ContentTopic, "t1", 0, day0)

	c := r.Clone()
	_, _ = c.RecordContent(ContentTopic, "t2", 0, day0)
	c.Stats.Streak = 7

	assert.Len(t, r.CompletedTopics, 1)
	assert.Len(t, c.CompletedTopics, 2)
	assert.Zero(t, r.Stats.Streak)
}

func TestRecomputeStats(t *testing.T) {
	r := NewRecord("rec-1", "learner-1", day0)
	for _, score := range []int{50, 70, 90} {
		r.AddQuizAttempt(QuizAttempt{QuizID: "q", Score: score})
	}
	_, _ = r.RecordContent(ContentTopic, "t1", 0, day0)

	RecomputeStats(r)

	assert.Equal(t, 2, r.Stats.TotalQuizzesPassed)
	assert.Equal(t, 70, r.Stats.AverageQuizScore)
	assert.Equal(t, 1, r.Stats.TotalTopicsCompleted)
}

func TestAverageScore_Rounding(t *testing.T) {
	attempts := func(scores ...int) []QuizAttempt {
		out := make([]QuizAttempt, len(scores))
		for i, s := range scores {
			out[i] = QuizAttempt{Score: s}
		}
		return out
	}

	assert.Equal(t, 0, AverageScore(nil))
	assert.Equal(t, 61, AverageScore(attempts(60, 61)))
	assert.Equal(t, 67, AverageScore(attempts(60, 70, 70)))
	assert.Equal(t, 100, AverageScore(attempts(100)))
}
