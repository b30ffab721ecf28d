package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn  *Connection
	clock timeutil.Clock
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection, clock timeutil.Clock) *ProgressRepository {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &ProgressRepository{conn: conn, clock: clock}
}

const progressColumns = `
	id, learner_id,
	completed_topics, viewed_protocols, viewed_guidelines, viewed_3d_models,
	viewed_trigger_points, completed_quizzes, achievements,
	stats, version, created_at, updated_at
`

// GetOrCreate returns the learner's record, inserting an empty one first if needed.
func (r *ProgressRepository) GetOrCreate(ctx context.Context, learnerID string) (*progress.Record, error) {
	rec, err := r.Get(ctx, learnerID)
	if err == nil {
		return rec, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record id: %w", err)
	}
	fresh := progress.NewRecord(id.String(), learnerID, r.clock.Now())
	fresh.Version = 1

	args, err := encodeRecord(fresh)
	if err != nil {
		return nil, err
	}

	// A concurrent creator may win the race; the unique learner_id makes
	// the loser a no-op and both read back the same row.
	query := `
		INSERT INTO progress_records (
			id, learner_id,
			completed_topics, viewed_protocols, viewed_guidelines, viewed_3d_models,
			viewed_trigger_points, completed_quizzes, achievements,
			stats, streak, longest_streak, last_activity_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (learner_id) DO NOTHING
	`
	_, err = r.conn.Exec(ctx, query,
		fresh.ID,
		fresh.LearnerID,
		args.completedTopics,
		args.viewedProtocols,
		args.viewedGuidelines,
		args.viewed3DModels,
		args.viewedTriggerPoints,
		args.completedQuizzes,
		args.achievements,
		args.stats,
		fresh.Stats.Streak,
		fresh.Stats.LongestStreak,
		fresh.Stats.LastActivityDate,
		fresh.Version,
		fresh.CreatedAt,
		fresh.UpdatedAt,
	)
	if err != nil {
		return nil, shared.WrapError("store", "GetOrCreate", shared.ErrUnavailable, "failed to create progress record", err)
	}

	return r.Get(ctx, learnerID)
}

// Get returns the learner's record or shared.ErrRecordNotFound.
func (r *ProgressRepository) Get(ctx context.Context, learnerID string) (*progress.Record, error) {
	query := `SELECT ` + progressColumns + ` FROM progress_records WHERE learner_id = $1`

	rec, err := scanRecord(r.conn.QueryRow(ctx, query, learnerID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrRecordNotFound
		}
		return nil, shared.WrapError("store", "Get", shared.ErrUnavailable, "failed to load progress record", err)
	}
	return rec, nil
}

// Save rewrites the whole record guarded by its version.
func (r *ProgressRepository) Save(ctx context.Context, rec *progress.Record) error {
	args, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE progress_records SET
			completed_topics = $1,
			viewed_protocols = $2,
			viewed_guidelines = $3,
			viewed_3d_models = $4,
			viewed_trigger_points = $5,
			completed_quizzes = $6,
			achievements = $7,
			stats = $8,
			streak = $9,
			longest_streak = $10,
			last_activity_at = $11,
			updated_at = $12,
			version = version + 1
		WHERE learner_id = $13 AND version = $14
	`

	tag, err := r.conn.Exec(ctx, query,
		args.completedTopics,
		args.viewedProtocols,
		args.viewedGuidelines,
		args.viewed3DModels,
		args.viewedTriggerPoints,
		args.completedQuizzes,
		args.achievements,
		args.stats,
		rec.Stats.Streak,
		rec.Stats.LongestStreak,
		rec.Stats.LastActivityDate,
		rec.UpdatedAt,
		rec.LearnerID,
		rec.Version,
	)
	if err != nil {
		if IsSerializationFailure(err) {
			return shared.ErrConcurrentModification
		}
		return shared.WrapError("store", "Save", shared.ErrUnavailable, "failed to save progress record", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM progress_records WHERE learner_id = $1)`, rec.LearnerID,
		).Scan(&exists); err != nil {
			return shared.WrapError("store", "Save", shared.ErrUnavailable, "failed to check progress record", err)
		}
		if !exists {
			return shared.ErrRecordNotFound
		}
		return shared.ErrConcurrentModification
	}

	rec.Version++
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helper Functions
// ─────────────────────────────────────────────────────────────────────────────

type encodedRecord struct {
	completedTopics     []byte
	viewedProtocols     []byte
	viewedGuidelines    []byte
	viewed3DModels      []byte
	viewedTriggerPoints []byte
	completedQuizzes    []byte
	achievements        []byte
	stats               []byte
}

func encodeRecord(rec *progress.Record) (encodedRecord, error) {
	var out encodedRecord
	fields := []struct {
		dst *[]byte
		src any
	}{
		{&out.completedTopics, nonNil(rec.CompletedTopics)},
		{&out.viewedProtocols, nonNil(rec.ViewedProtocols)},
		{&out.viewedGuidelines, nonNil(rec.ViewedGuidelines)},
		{&out.viewed3DModels, nonNil(rec.Viewed3DModels)},
		{&out.viewedTriggerPoints, nonNil(rec.ViewedTriggerPoints)},
		{&out.completedQuizzes, nonNil(rec.CompletedQuizzes)},
		{&out.achievements, nonNil(rec.Achievements)},
		{&out.stats, rec.Stats},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return encodedRecord{}, fmt.Errorf("failed to marshal progress record: %w", err)
		}
		*f.dst = data
	}
	return out, nil
}

// nonNil keeps empty collections as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanRecord(row pgx.Row) (*progress.Record, error) {
	var (
		rec                                                  progress.Record
		topics, protocols, guidelines, models, triggerPoints []byte
		quizzes, achievements, stats                         []byte
		createdAt, updatedAt                                 time.Time
	)

	err := row.Scan(
		&rec.ID,
		&rec.LearnerID,
		&topics,
		&protocols,
		&guidelines,
		&models,
		&triggerPoints,
		&quizzes,
		&achievements,
		&stats,
		&rec.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	targets := []struct {
		src []byte
		dst any
	}{
		{topics, &rec.CompletedTopics},
		{protocols, &rec.ViewedProtocols},
		{guidelines, &rec.ViewedGuidelines},
		{models, &rec.Viewed3DModels},
		{triggerPoints, &rec.ViewedTriggerPoints},
		{quizzes, &rec.CompletedQuizzes},
		{achievements, &rec.Achievements},
		{stats, &rec.Stats},
	}
	for _, t := range targets {
		if err := json.Unmarshal(t.src, t.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress record: %w", err)
		}
	}

	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	return &rec, nil
}
