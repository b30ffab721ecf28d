// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/internal/infrastructure/metrics"
	"github.com/physiohub/progress-engine/pkg/logger"
	"github.com/physiohub/progress-engine/pkg/retry"
	"github.com/physiohub/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MUTATION PIPELINE
// Every progress-affecting command runs the same sequence:
// lock → load-or-create → mutate → stats/streak → save → achievements →
// save unlocks → publish events.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultMaxAttempts bounds re-runs after a version conflict.
const DefaultMaxAttempts = 5

// PipelineConfig wires the pipeline's collaborators. Repository is required.
type PipelineConfig struct {
	Repository   progress.Repository
	Locker       progress.LearnerLocker
	Publisher    shared.EventPublisher
	Clock        timeutil.Clock
	Streaks      progress.StreakEngine
	Achievements progress.AchievementEngine
	MaxAttempts  int
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

// Pipeline runs progress mutations for all command handlers.
type Pipeline struct {
	repo         progress.Repository
	locker       progress.LearnerLocker
	publisher    shared.EventPublisher
	clock        timeutil.Clock
	streaks      progress.StreakEngine
	achievements progress.AchievementEngine
	maxAttempts  int
	log          *logger.Logger
	metrics      *metrics.Metrics
}

// NewPipeline creates a Pipeline, filling optional collaborators with defaults.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Publisher == nil {
		cfg.Publisher = shared.NopPublisher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Streaks == (progress.StreakEngine{}) {
		cfg.Streaks = progress.DefaultStreakEngine()
	}
	if cfg.Achievements.Policy() == "" {
		cfg.Achievements = progress.NewAchievementEngine(progress.PolicyThreshold)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	return &Pipeline{
		repo:         cfg.Repository,
		locker:       cfg.Locker,
		publisher:    cfg.Publisher,
		clock:        cfg.Clock,
		streaks:      cfg.Streaks,
		achievements: cfg.Achievements,
		maxAttempts:  cfg.MaxAttempts,
		log:          cfg.Logger.With(logger.Component("progress_pipeline")),
		metrics:      cfg.Metrics,
	}
}

// mutation describes one command's contribution to the pipeline.
type mutation struct {
	op        string
	learnerID string

	// fields are added to every log line of the run.
	fields []logger.Field

	// apply changes raw collections and returns the study time to add.
	// It may run several times when the save hits a version conflict.
	apply func(rec *progress.Record, now time.Time) (timeSpent int, err error)

	// events builds the command's own events from the saved record.
	events func(rec *progress.Record, now time.Time) []shared.Event
}

// Result is returned by every command.
type Result struct {
	// Record is the learner's record as persisted.
	Record *progress.Record

	// Streak describes the streak transition caused by the command.
	Streak progress.StreakResult

	// Unlocked lists achievements unlocked and persisted by the command.
	Unlocked []progress.UnlockedAchievement
}

func (p *Pipeline) run(ctx context.Context, m mutation) (res *Result, err error) {
	start := time.Now()
	log := p.log.With(append([]logger.Field{logger.Operation(m.op), logger.LearnerID(m.learnerID)}, m.fields...)...)
	defer func() {
		p.metrics.ObserveCommand(m.op, time.Since(start), err)
		if err != nil && !shared.IsValidation(err) {
			log.Error("progress command failed", logger.Err(err), logger.Latency(time.Since(start)))
		}
	}()

	lid, err := shared.NewLearnerID(m.learnerID)
	if err != nil {
		return nil, err
	}
	m.learnerID = lid.String()

	if p.locker != nil {
		unlock, err := p.locker.Lock(ctx, m.learnerID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var (
		rec    *progress.Record
		streak progress.StreakResult
		now    time.Time
	)

	attempt := 0
	err = p.retrier().Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			p.metrics.IncOptimisticRetry(m.op)
			log.Debug("retrying after version conflict", logger.Attempt(attempt))
		}

		loaded, err := p.repo.GetOrCreate(ctx, m.learnerID)
		if err != nil {
			return err
		}

		now = p.clock.Now()
		timeSpent, err := m.apply(loaded, now)
		if err != nil {
			return err
		}

		result := loaded.ApplyActivity(p.streaks, timeSpent, now)
		if err := p.repo.Save(ctx, loaded); err != nil {
			return err
		}

		rec, streak = loaded, result
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug("progress saved", logger.RecordVersion(rec.Version), logger.Attempt(attempt))

	rec, unlocked := p.persistUnlocks(ctx, rec, now, log)

	events := m.events(rec, now)
	events = append(events, p.streakEvents(m.learnerID, streak, now)...)
	for _, u := range unlocked {
		p.metrics.IncAchievementUnlocked(u.AchievementID.String())
		log.Info("achievement unlocked", logger.AchievementID(u.AchievementID.String()))
		events = append(events, shared.NewAchievementUnlockedEvent(
			m.learnerID, u.AchievementID.String(), u.Title, u.Description, u.Icon, u.UnlockedAt,
		))
	}
	p.publish(events, log)

	return &Result{Record: rec, Streak: streak, Unlocked: unlocked}, nil
}

// persistUnlocks evaluates achievements against the saved record and saves
// any new ones. Failure is logged and counted; the caller then gets the
// record without the unsaved unlocks.
func (p *Pipeline) persistUnlocks(ctx context.Context, saved *progress.Record, now time.Time, log *logger.Logger) (*progress.Record, []progress.UnlockedAchievement) {
	current := saved
	var unlocked []progress.UnlockedAchievement

	attempt := 0
	err := p.retrier().Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			fresh, err := p.repo.Get(ctx, saved.LearnerID)
			if err != nil {
				return err
			}
			current = fresh
		}

		candidate := current.Clone()
		unlocked = p.achievements.Evaluate(candidate, now)
		if len(unlocked) == 0 {
			current = candidate
			return nil
		}
		if err := p.repo.Save(ctx, candidate); err != nil {
			return err
		}
		current = candidate
		return nil
	})
	if err != nil {
		p.metrics.IncAchievementPersistFailure()
		log.Error("failed to persist achievements",
			logger.Operation("persist_achievements"),
			logger.Int("pending", len(unlocked)),
			logger.Err(err),
		)
		return saved, nil
	}

	return current, unlocked
}

func (p *Pipeline) streakEvents(learnerID string, r progress.StreakResult, now time.Time) []shared.Event {
	if r.Transition != progress.StreakUnchanged {
		p.metrics.IncStreakTransition(r.Transition.String())
	}

	switch r.Transition {
	case progress.StreakStarted, progress.StreakExtended:
		return []shared.Event{
			shared.NewStreakUpdatedEvent(learnerID, r.Current, r.Longest, r.NewRecord, now),
		}
	case progress.StreakReset:
		return []shared.Event{
			shared.NewStreakBrokenEvent(learnerID, r.Previous, r.DaysDiff-1, now),
			shared.NewStreakUpdatedEvent(learnerID, r.Current, r.Longest, r.NewRecord, now),
		}
	default:
		return nil
	}
}

// publish hands events to the bus. Delivery problems never fail a command.
func (p *Pipeline) publish(events []shared.Event, log *logger.Logger) {
	for _, ev := range events {
		if err := p.publisher.Publish(ev); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(ev.EventType())),
				logger.Err(err),
			)
		}
	}
}

func (p *Pipeline) retrier() retry.Policy {
	return retry.OptimisticLock(p.maxAttempts, func(err error) bool {
		return errors.Is(err, shared.ErrConcurrentModification)
	})
}
