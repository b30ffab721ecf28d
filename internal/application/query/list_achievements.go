package query

import (
	"context"
	"time"

	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ACHIEVEMENTS QUERY
// Каталог достижений в фиксированном порядке. Если указан слушатель,
// каждое достижение помечается как полученное или нет.
// ══════════════════════════════════════════════════════════════════════════════

// ListAchievementsQuery optionally scopes the catalogue to a learner.
type ListAchievementsQuery struct {
	LearnerID string
}

// AchievementView is one catalogue entry.
type AchievementView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
}

// ListAchievementsHandler handles ListAchievementsQuery.
type ListAchievementsHandler struct {
	repo progress.Repository
}

// NewListAchievementsHandler creates a new ListAchievementsHandler.
func NewListAchievementsHandler(repo progress.Repository) *ListAchievementsHandler {
	return &ListAchievementsHandler{repo: repo}
}

// Handle returns the catalogue. A learner without a record sees everything locked.
func (h *ListAchievementsHandler) Handle(ctx context.Context, q ListAchievementsQuery) ([]AchievementView, error) {
	unlocked := map[progress.AchievementID]time.Time{}

	if q.LearnerID != "" {
		lid, err := shared.NewLearnerID(q.LearnerID)
		if err != nil {
			return nil, err
		}
		rec, err := h.repo.Get(ctx, lid.String())
		switch {
		case err == nil:
			for _, a := range rec.Achievements {
				unlocked[a.AchievementID] = a.UnlockedAt
			}
		case shared.IsNotFound(err):
		default:
			return nil, err
		}
	}

	defs := progress.Definitions()
	views := make([]AchievementView, 0, len(defs))
	for _, d := range defs {
		v := AchievementView{
			ID:          d.ID.String(),
			Title:       d.Title,
			Description: d.Description,
			Icon:        d.Icon,
		}
		if at, ok := unlocked[d.ID]; ok {
			at := at
			v.Unlocked = true
			v.UnlockedAt = &at
		}
		views = append(views, v)
	}
	return views, nil
}
