// Package guard protects the progress store with a circuit breaker.
package guard

import (
	"context"
	"errors"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/circuitbreaker"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// IsStoreFailure reports whether err says something about the store's health.
// Missing records, version conflicts and caller errors do not.
func IsStoreFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case shared.IsNotFound(err), shared.IsConflict(err), shared.IsValidation(err):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// Repository fails fast with shared.ErrStoreUnavailable while the store is
// tripped, instead of letting every request wait on the pool timeout.
type Repository struct {
	next    progress.Repository
	breaker *circuitbreaker.Breaker
}

// NewRepository wraps next. A nil breaker gets circuitbreaker.ForStore
// with state changes logged.
func NewRepository(next progress.Repository, breaker *circuitbreaker.Breaker, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.Nop()
	}
	if breaker == nil {
		log = log.With(logger.Component("store_breaker"))
		breaker = circuitbreaker.ForStore(IsStoreFailure, func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
	}
	return &Repository{next: next, breaker: breaker}
}

// GetOrCreate implements progress.Repository.
func (r *Repository) GetOrCreate(ctx context.Context, learnerID string) (*progress.Record, error) {
	rec, err := circuitbreaker.Call(ctx, r.breaker, func(ctx context.Context) (*progress.Record, error) {
		return r.next.GetOrCreate(ctx, learnerID)
	})
	return rec, translate("GetOrCreate", err)
}

// Get implements progress.Repository.
func (r *Repository) Get(ctx context.Context, learnerID string) (*progress.Record, error) {
	rec, err := circuitbreaker.Call(ctx, r.breaker, func(ctx context.Context) (*progress.Record, error) {
		return r.next.Get(ctx, learnerID)
	})
	return rec, translate("Get", err)
}

// Save implements progress.Repository.
func (r *Repository) Save(ctx context.Context, rec *progress.Record) error {
	err := r.breaker.Run(ctx, func(ctx context.Context) error {
		return r.next.Save(ctx, rec)
	})
	return translate("Save", err)
}

func translate(op string, err error) error {
	if circuitbreaker.IsRejected(err) {
		return shared.WrapError("store", op, shared.ErrStoreUnavailable, "progress store circuit is open", err)
	}
	return err
}
