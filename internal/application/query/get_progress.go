// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Возвращает документ прогресса слушателя. Первое чтение создаёт пустой
// документ, поэтому ответ всегда содержит полную структуру.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery identifies the learner.
type GetProgressQuery struct {
	LearnerID string
}

// Validate validates the query.
func (q GetProgressQuery) Validate() error {
	_, err := shared.NewLearnerID(q.LearnerID)
	return err
}

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	repo progress.Repository
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(repo progress.Repository) *GetProgressHandler {
	return &GetProgressHandler{repo: repo}
}

// Handle returns the learner's record, creating it on first access.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*progress.Record, error) {
	lid, err := shared.NewLearnerID(q.LearnerID)
	if err != nil {
		return nil, err
	}
	return h.repo.GetOrCreate(ctx, lid.String())
}
