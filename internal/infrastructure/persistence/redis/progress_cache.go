package redis

import (
	"context"
	"errors"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// jsonStore is the subset of Cache used for record caching.
type jsonStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCache implements progress.Cache on top of Cache.
type ProgressCache struct {
	store jsonStore
}

// NewProgressCache creates a new ProgressCache.
func NewProgressCache(store jsonStore) *ProgressCache {
	return &ProgressCache{store: store}
}

// Get returns the cached record or shared.ErrRecordNotFound on a miss.
func (c *ProgressCache) Get(ctx context.Context, learnerID string) (*progress.Record, error) {
	var rec progress.Record
	if err := c.store.Get(ctx, ProgressKey(learnerID), &rec); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrRecordNotFound
		}
		return nil, shared.WrapError("cache", "Get", shared.ErrCacheUnavailable, "failed to read cached progress", err)
	}
	return &rec, nil
}

// Set caches the record under its learner id.
func (c *ProgressCache) Set(ctx context.Context, rec *progress.Record, ttl time.Duration) error {
	if rec == nil {
		return nil
	}
	if err := c.store.Set(ctx, ProgressKey(rec.LearnerID), rec, ttl); err != nil {
		return shared.WrapError("cache", "Set", shared.ErrCacheUnavailable, "failed to cache progress", err)
	}
	return nil
}

// Invalidate removes the learner's cached record.
func (c *ProgressCache) Invalidate(ctx context.Context, learnerID string) error {
	if err := c.store.Delete(ctx, ProgressKey(learnerID)); err != nil {
		return shared.WrapError("cache", "Invalidate", shared.ErrCacheUnavailable, "failed to invalidate progress", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHED REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CachedRepository is a read-through, write-through decorator over a
// progress.Repository. Cache failures are logged and never fail the call.
type CachedRepository struct {
	next  progress.Repository
	cache progress.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedRepository wraps next with cache.
func NewCachedRepository(next progress.Repository, cache progress.Cache, ttl time.Duration, log *logger.Logger) *CachedRepository {
	if ttl <= 0 {
		ttl = TTLProgressCache
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedRepository{
		next:  next,
		cache: cache,
		ttl:   ttl,
		log:   log.With(logger.Component("progress_cache")),
	}
}

// GetOrCreate implements progress.Repository.
func (r *CachedRepository) GetOrCreate(ctx context.Context, learnerID string) (*progress.Record, error) {
	if rec, ok := r.lookup(ctx, learnerID); ok {
		return rec, nil
	}

	rec, err := r.next.GetOrCreate(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, rec)
	return rec, nil
}

// Get implements progress.Repository.
func (r *CachedRepository) Get(ctx context.Context, learnerID string) (*progress.Record, error) {
	if rec, ok := r.lookup(ctx, learnerID); ok {
		return rec, nil
	}

	rec, err := r.next.Get(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, rec)
	return rec, nil
}

// Save implements progress.Repository. A version conflict drops the cached
// copy so the retried operation reloads from the store.
func (r *CachedRepository) Save(ctx context.Context, rec *progress.Record) error {
	if err := r.next.Save(ctx, rec); err != nil {
		if errors.Is(err, shared.ErrConcurrentModification) {
			if invErr := r.cache.Invalidate(ctx, rec.LearnerID); invErr != nil {
				r.log.Warn("cache invalidate failed",
					logger.LearnerID(rec.LearnerID),
					logger.Err(invErr),
				)
			}
		}
		return err
	}
	r.store(ctx, rec)
	return nil
}

func (r *CachedRepository) lookup(ctx context.Context, learnerID string) (*progress.Record, bool) {
	rec, err := r.cache.Get(ctx, learnerID)
	if err == nil {
		return rec, true
	}
	if !shared.IsNotFound(err) {
		r.log.Warn("cache read failed",
			logger.LearnerID(learnerID),
			logger.Err(err),
		)
	}
	return nil, false
}

func (r *CachedRepository) store(ctx context.Context, rec *progress.Record) {
	if err := r.cache.Set(ctx, rec, r.ttl); err != nil {
		r.log.Warn("cache write failed",
			logger.LearnerID(rec.LearnerID),
			logger.Err(err),
		)
	}
}
