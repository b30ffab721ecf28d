// Package memory provides an in-process progress store for single-instance
// deployments and tests. It enforces the same version checks as PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/timeutil"
)

// ProgressRepository implements progress.Repository over a map.
// Records are cloned on the way in and out so callers never share state.
type ProgressRepository struct {
	mu      sync.RWMutex
	records map[string]*progress.Record
	clock   timeutil.Clock

	// failSave, when set, is returned from Save. Used to simulate store outages.
	failSave func(rec *progress.Record) error
}

// NewProgressRepository creates an empty repository.
func NewProgressRepository(clock timeutil.Clock) *ProgressRepository {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &ProgressRepository{
		records: make(map[string]*progress.Record),
		clock:   clock,
	}
}

// GetOrCreate implements progress.Repository.
func (r *ProgressRepository) GetOrCreate(ctx context.Context, learnerID string) (*progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[learnerID]; ok {
		return rec.Clone(), nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record id: %w", err)
	}
	rec := progress.NewRecord(id.String(), learnerID, r.clock.Now())
	rec.Version = 1
	r.records[learnerID] = rec
	return rec.Clone(), nil
}

// Get implements progress.Repository.
func (r *ProgressRepository) Get(ctx context.Context, learnerID string) (*progress.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[learnerID]
	if !ok {
		return nil, shared.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Save implements progress.Repository.
func (r *ProgressRepository) Save(ctx context.Context, rec *progress.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failSave != nil {
		if err := r.failSave(rec); err != nil {
			return err
		}
	}

	stored, ok := r.records[rec.LearnerID]
	if !ok {
		return shared.ErrRecordNotFound
	}
	if stored.Version != rec.Version {
		return shared.ErrConcurrentModification
	}

	rec.Version++
	r.records[rec.LearnerID] = rec.Clone()
	return nil
}

// FailSaveWith installs a hook that can reject Save calls. Pass nil to clear it.
func (r *ProgressRepository) FailSaveWith(fn func(rec *progress.Record) error) {
	r.mu.Lock()
	r.failSave = fn
	r.mu.Unlock()
}

// Len returns the number of stored records.
func (r *ProgressRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
