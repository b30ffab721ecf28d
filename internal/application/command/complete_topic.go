package command

import (
	"context"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE TOPIC COMMAND
// Отмечает тему пройденной. Повторный вызов не добавляет запись,
// но засчитывается как активность (время занятий и серия).
// ══════════════════════════════════════════════════════════════════════════════

// CompleteTopicCommand contains the data to complete a topic.
type CompleteTopicCommand struct {
	LearnerID string
	TopicID   string

	// TimeSpentSeconds is optional; zero when unknown.
	TimeSpentSeconds int
}

// Validate validates the command.
func (c CompleteTopicCommand) Validate() error {
	_, err := c.normalize()
	return err
}

// normalize validates the command and returns it with trimmed ids.
func (c CompleteTopicCommand) normalize() (CompleteTopicCommand, error) {
	lid, err := shared.NewLearnerID(c.LearnerID)
	if err != nil {
		return c, err
	}
	ref, err := shared.NewContentRef(c.TopicID)
	if err != nil {
		return c, err
	}
	if _, err := shared.NewSeconds(c.TimeSpentSeconds); err != nil {
		return c, err
	}
	c.LearnerID, c.TopicID = lid.String(), ref.String()
	return c, nil
}

// CompleteTopicHandler handles CompleteTopicCommand.
type CompleteTopicHandler struct {
	pipeline *Pipeline
}

// NewCompleteTopicHandler creates a new CompleteTopicHandler.
func NewCompleteTopicHandler(pipeline *Pipeline) *CompleteTopicHandler {
	return &CompleteTopicHandler{pipeline: pipeline}
}

// Handle executes the command and returns the updated record.
func (h *CompleteTopicHandler) Handle(ctx context.Context, cmd CompleteTopicCommand) (*Result, error) {
	cmd, err := cmd.normalize()
	if err != nil {
		return nil, err
	}

	var firstTime bool
	return h.pipeline.run(ctx, mutation{
		op:        "complete_topic",
		learnerID: cmd.LearnerID,
		fields:    []logger.Field{logger.ContentKind(progress.ContentTopic.String()), logger.ContentID(cmd.TopicID)},
		apply: func(rec *progress.Record, now time.Time) (int, error) {
			added, err := rec.RecordContent(progress.ContentTopic, cmd.TopicID, cmd.TimeSpentSeconds, now)
			if err != nil {
				return 0, err
			}
			firstTime = added
			return cmd.TimeSpentSeconds, nil
		},
		events: func(rec *progress.Record, now time.Time) []shared.Event {
			return []shared.Event{
				shared.NewTopicCompletedEvent(
					cmd.LearnerID, cmd.TopicID, cmd.TimeSpentSeconds, firstTime,
					rec.Stats.TotalTopicsCompleted, now,
				),
			}
		},
	})
}
