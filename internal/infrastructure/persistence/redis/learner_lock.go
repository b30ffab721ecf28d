package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/logger"
	"github.com/physiohub/progress-engine/pkg/retry"
)

// lockStore is the subset of Cache used by LearnerLocker.
type lockStore interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfEquals(ctx context.Context, key, token string) (bool, error)
}

var errLockBusy = errors.New("redis: learner lock busy")

// LockConfig tunes LearnerLocker.
type LockConfig struct {
	// TTL is how long a lock survives without release.
	TTL time.Duration

	// MaxAttempts bounds SETNX polling before giving up with ErrLockNotAcquired.
	MaxAttempts int

	// PollInterval is the first delay between attempts; it doubles up to MaxPoll.
	PollInterval time.Duration
	MaxPoll      time.Duration
}

// DefaultLockConfig returns defaults that wait up to a few seconds.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:          TTLLearnerLock,
		MaxAttempts:  40,
		PollInterval: 10 * time.Millisecond,
		MaxPoll:      200 * time.Millisecond,
	}
}

// LearnerLocker implements progress.LearnerLocker across instances with
// SET NX PX and a token-checked release.
type LearnerLocker struct {
	store lockStore
	cfg   LockConfig
	log   *logger.Logger
}

// NewLearnerLocker creates a new LearnerLocker.
func NewLearnerLocker(store lockStore, cfg LockConfig, log *logger.Logger) *LearnerLocker {
	def := DefaultLockConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPoll < cfg.PollInterval {
		cfg.MaxPoll = cfg.PollInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LearnerLocker{
		store: store,
		cfg:   cfg,
		log:   log.With(logger.Component("learner_lock")),
	}
}

// Lock blocks until the learner's lock is acquired, ctx ends or the
// attempts run out.
func (l *LearnerLocker) Lock(ctx context.Context, learnerID string) (func(), error) {
	key := LockKey(learnerID)
	token := uuid.NewString()

	poll := retry.Policy{
		MaxAttempts:  l.cfg.MaxAttempts,
		InitialDelay: l.cfg.PollInterval,
		MaxDelay:     l.cfg.MaxPoll,
		Multiplier:   2,
		Jitter:       0.2,
		RetryIf:      func(err error) bool { return errors.Is(err, errLockBusy) },
	}

	err := poll.Do(ctx, func(ctx context.Context) error {
		ok, err := l.store.SetNX(ctx, key, token, l.cfg.TTL)
		if err != nil {
			return err
		}
		if !ok {
			return errLockBusy
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, errLockBusy) {
			return nil, shared.ErrLockNotAcquired
		}
		return nil, shared.WrapError("lock", "Lock", shared.ErrUnavailable, "failed to acquire learner lock", err)
	}

	return func() {
		// The caller's ctx may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		released, err := l.store.DeleteIfEquals(releaseCtx, key, token)
		if err != nil {
			l.log.Warn("lock release failed", logger.LearnerID(learnerID), logger.Err(err))
			return
		}
		if !released {
			l.log.Warn("lock expired before release", logger.LearnerID(learnerID))
		}
	}, nil
}
