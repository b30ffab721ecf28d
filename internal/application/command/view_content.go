package command

import (
	"context"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// VIEW CONTENT COMMAND
// Просмотр протокола, рекомендации, 3D-модели или триггерной точки.
// Все четыре вида используют один алгоритм, отличается только коллекция.
// ══════════════════════════════════════════════════════════════════════════════

// ViewContentCommand records a first view of a piece of reference content.
type ViewContentCommand struct {
	LearnerID string
	Kind      progress.ContentKind
	RefID     string

	// TimeSpentSeconds is optional; zero when unknown.
	TimeSpentSeconds int
}

// Validate validates the command. Topics go through CompleteTopicCommand.
func (c ViewContentCommand) Validate() error {
	_, err := c.normalize()
	return err
}

// normalize validates the command and returns it with trimmed ids.
func (c ViewContentCommand) normalize() (ViewContentCommand, error) {
	lid, err := shared.NewLearnerID(c.LearnerID)
	if err != nil {
		return c, err
	}
	if !c.Kind.IsValid() || c.Kind == progress.ContentTopic {
		return c, shared.ErrInvalidContentKind
	}
	ref, err := shared.NewContentRef(c.RefID)
	if err != nil {
		return c, err
	}
	if _, err := shared.NewSeconds(c.TimeSpentSeconds); err != nil {
		return c, err
	}
	c.LearnerID, c.RefID = lid.String(), ref.String()
	return c, nil
}

// ViewContentHandler handles ViewContentCommand.
type ViewContentHandler struct {
	pipeline *Pipeline
}

// NewViewContentHandler creates a new ViewContentHandler.
func NewViewContentHandler(pipeline *Pipeline) *ViewContentHandler {
	return &ViewContentHandler{pipeline: pipeline}
}

// Handle executes the command and returns the updated record.
func (h *ViewContentHandler) Handle(ctx context.Context, cmd ViewContentCommand) (*Result, error) {
	cmd, err := cmd.normalize()
	if err != nil {
		return nil, err
	}

	var firstTime bool
	return h.pipeline.run(ctx, mutation{
		op:        "view_" + cmd.Kind.String(),
		learnerID: cmd.LearnerID,
		fields:    []logger.Field{logger.ContentKind(cmd.Kind.String()), logger.ContentID(cmd.RefID)},
		apply: func(rec *progress.Record, now time.Time) (int, error) {
			added, err := rec.RecordContent(cmd.Kind, cmd.RefID, cmd.TimeSpentSeconds, now)
			if err != nil {
				return 0, err
			}
			firstTime = added
			return cmd.TimeSpentSeconds, nil
		},
		events: func(_ *progress.Record, now time.Time) []shared.Event {
			return []shared.Event{
				shared.NewContentViewedEvent(
					cmd.LearnerID, cmd.Kind.String(), cmd.RefID, cmd.TimeSpentSeconds, firstTime, now,
				),
			}
		},
	})
}
