package command

import (
	"context"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD QUIZ RESULT COMMAND
// Каждая попытка сохраняется, даже повторная. Средний балл и число
// сданных тестов пересчитываются по всей истории.
// ══════════════════════════════════════════════════════════════════════════════

// RecordQuizResultCommand contains one quiz attempt.
type RecordQuizResultCommand struct {
	LearnerID        string
	QuizID           string
	Score            int
	TotalQuestions   int
	CorrectAnswers   int
	TimeSpentSeconds int

	// Mode is "practice" (default) or "exam".
	Mode string
}

// Validate validates the command.
func (c RecordQuizResultCommand) Validate() error {
	_, err := c.normalize()
	return err
}

// normalize validates the command and returns it with trimmed ids.
func (c RecordQuizResultCommand) normalize() (RecordQuizResultCommand, error) {
	lid, err := shared.NewLearnerID(c.LearnerID)
	if err != nil {
		return c, err
	}
	a, err := progress.NewQuizAttempt(c.params(time.Time{}))
	if err != nil {
		return c, err
	}
	c.LearnerID, c.QuizID = lid.String(), a.QuizID
	return c, nil
}

func (c RecordQuizResultCommand) params(at time.Time) progress.NewQuizAttemptParams {
	return progress.NewQuizAttemptParams{
		QuizID:           c.QuizID,
		Score:            c.Score,
		TotalQuestions:   c.TotalQuestions,
		CorrectAnswers:   c.CorrectAnswers,
		TimeSpentSeconds: c.TimeSpentSeconds,
		Mode:             c.Mode,
		CompletedAt:      at,
	}
}

// RecordQuizResultHandler handles RecordQuizResultCommand.
type RecordQuizResultHandler struct {
	pipeline *Pipeline
}

// NewRecordQuizResultHandler creates a new RecordQuizResultHandler.
func NewRecordQuizResultHandler(pipeline *Pipeline) *RecordQuizResultHandler {
	return &RecordQuizResultHandler{pipeline: pipeline}
}

// Handle executes the command and returns the updated record.
func (h *RecordQuizResultHandler) Handle(ctx context.Context, cmd RecordQuizResultCommand) (*Result, error) {
	cmd, err := cmd.normalize()
	if err != nil {
		return nil, err
	}

	var attempt progress.QuizAttempt
	return h.pipeline.run(ctx, mutation{
		op:        "record_quiz_result",
		learnerID: cmd.LearnerID,
		fields:    []logger.Field{logger.QuizID(cmd.QuizID)},
		apply: func(rec *progress.Record, now time.Time) (int, error) {
			a, err := progress.NewQuizAttempt(cmd.params(now))
			if err != nil {
				return 0, err
			}
			rec.AddQuizAttempt(a)
			attempt = a
			return a.TimeSpentSeconds, nil
		},
		events: func(rec *progress.Record, now time.Time) []shared.Event {
			return []shared.Event{
				shared.NewQuizRecordedEvent(
					cmd.LearnerID, attempt.QuizID, attempt.Score, attempt.Passed(),
					string(attempt.Mode), rec.Stats.AverageQuizScore, now,
				),
			}
		},
	})
}
