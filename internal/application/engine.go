// Package application assembles the command and query handlers into the
// progress engine used by the transport layers.
package application

import (
	"context"

	"github.com/physiohub/progress-engine/internal/application/command"
	"github.com/physiohub/progress-engine/internal/application/query"
	"github.com/physiohub/progress-engine/internal/domain/progress"
)

// Engine is the entry point for every progress operation.
// Mutations return the full updated record together with the streak
// outcome and the achievements unlocked by that call.
type Engine struct {
	getProgress      *query.GetProgressHandler
	listAchievements *query.ListAchievementsHandler
	completeTopic    *command.CompleteTopicHandler
	viewContent      *command.ViewContentHandler
	recordQuiz       *command.RecordQuizResultHandler
}

// NewEngine builds the engine on top of a single command pipeline.
func NewEngine(cfg command.PipelineConfig) *Engine {
	pipeline := command.NewPipeline(cfg)
	return &Engine{
		getProgress:      query.NewGetProgressHandler(cfg.Repository),
		listAchievements: query.NewListAchievementsHandler(cfg.Repository),
		completeTopic:    command.NewCompleteTopicHandler(pipeline),
		viewContent:      command.NewViewContentHandler(pipeline),
		recordQuiz:       command.NewRecordQuizResultHandler(pipeline),
	}
}

// GetProgress returns the learner's record, creating an empty one on first access.
func (e *Engine) GetProgress(ctx context.Context, learnerID string) (*progress.Record, error) {
	return e.getProgress.Handle(ctx, query.GetProgressQuery{LearnerID: learnerID})
}

// CompleteTopic marks a topic as completed. Repeats only add study time.
func (e *Engine) CompleteTopic(ctx context.Context, learnerID, topicID string, timeSpentSeconds int) (*command.Result, error) {
	return e.completeTopic.Handle(ctx, command.CompleteTopicCommand{
		LearnerID:        learnerID,
		TopicID:          topicID,
		TimeSpentSeconds: timeSpentSeconds,
	})
}

// ViewProtocol records a protocol view.
func (e *Engine) ViewProtocol(ctx context.Context, learnerID, protocolID string, timeSpentSeconds int) (*command.Result, error) {
	return e.view(ctx, progress.ContentProtocol, learnerID, protocolID, timeSpentSeconds)
}

// ViewGuideline records a guideline view.
func (e *Engine) ViewGuideline(ctx context.Context, learnerID, guidelineID string, timeSpentSeconds int) (*command.Result, error) {
	return e.view(ctx, progress.ContentGuideline, learnerID, guidelineID, timeSpentSeconds)
}

// View3DModel records a 3D model view.
func (e *Engine) View3DModel(ctx context.Context, learnerID, modelID string, timeSpentSeconds int) (*command.Result, error) {
	return e.view(ctx, progress.ContentModel3D, learnerID, modelID, timeSpentSeconds)
}

// ViewTriggerPoint records a trigger point view.
func (e *Engine) ViewTriggerPoint(ctx context.Context, learnerID, triggerPointID string, timeSpentSeconds int) (*command.Result, error) {
	return e.view(ctx, progress.ContentTriggerPoint, learnerID, triggerPointID, timeSpentSeconds)
}

// View records a view of any non-topic content kind.
func (e *Engine) View(ctx context.Context, kind progress.ContentKind, learnerID, refID string, timeSpentSeconds int) (*command.Result, error) {
	return e.view(ctx, kind, learnerID, refID, timeSpentSeconds)
}

func (e *Engine) view(ctx context.Context, kind progress.ContentKind, learnerID, refID string, timeSpentSeconds int) (*command.Result, error) {
	return e.viewContent.Handle(ctx, command.ViewContentCommand{
		LearnerID:        learnerID,
		Kind:             kind,
		RefID:            refID,
		TimeSpentSeconds: timeSpentSeconds,
	})
}

// QuizResult is one submitted quiz attempt.
type QuizResult struct {
	QuizID           string
	Score            int
	TotalQuestions   int
	CorrectAnswers   int
	TimeSpentSeconds int
	Mode             string
}

// RecordQuizResult appends a quiz attempt and recomputes quiz statistics.
func (e *Engine) RecordQuizResult(ctx context.Context, learnerID string, r QuizResult) (*command.Result, error) {
	return e.recordQuiz.Handle(ctx, command.RecordQuizResultCommand{
		LearnerID:        learnerID,
		QuizID:           r.QuizID,
		Score:            r.Score,
		TotalQuestions:   r.TotalQuestions,
		CorrectAnswers:   r.CorrectAnswers,
		TimeSpentSeconds: r.TimeSpentSeconds,
		Mode:             r.Mode,
	})
}

// ListAchievements returns the catalogue. An empty learnerID lists it without unlock state.
func (e *Engine) ListAchievements(ctx context.Context, learnerID string) ([]query.AchievementView, error) {
	return e.listAchievements.Handle(ctx, query.ListAchievementsQuery{LearnerID: learnerID})
}
