package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/physiohub/progress-engine/internal/application"
	"github.com/physiohub/progress-engine/internal/application/command"
	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/internal/interface/http/handlers"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// timeSpentRequest is the optional body of completion and view calls.
type timeSpentRequest struct {
	TimeSpent *int `json:"timeSpent" validate:"omitempty,min=0"`
}

func (r timeSpentRequest) seconds() int {
	if r.TimeSpent == nil {
		return 0
	}
	return *r.TimeSpent
}

// quizResultRequest is the body of POST /quizzes/{id}/result.
type quizResultRequest struct {
	Score          *int   `json:"score" validate:"required,min=0,max=100"`
	TotalQuestions *int   `json:"totalQuestions" validate:"required,min=0"`
	CorrectAnswers *int   `json:"correctAnswers" validate:"required,min=0"`
	TimeSpent      *int   `json:"timeSpent" validate:"omitempty,min=0"`
	Mode           string `json:"mode" validate:"omitempty,oneof=practice exam"`
}

// streakView summarises the streak transition of a mutation.
type streakView struct {
	Transition string `json:"transition"`
	Current    int    `json:"current"`
	Longest    int    `json:"longest"`
	NewRecord  bool   `json:"newRecord"`
}

// mutationResponse is returned by every POST route.
type mutationResponse struct {
	Progress        *progress.Record               `json:"progress"`
	NewAchievements []progress.UnlockedAchievement `json:"newAchievements"`
	Streak          streakView                     `json:"streak"`
}

func newMutationResponse(res *command.Result) mutationResponse {
	unlocked := res.Unlocked
	if unlocked == nil {
		unlocked = []progress.UnlockedAchievement{}
	}
	return mutationResponse{
		Progress:        res.Record,
		NewAchievements: unlocked,
		Streak: streakView{
			Transition: res.Streak.Transition.String(),
			Current:    res.Streak.Current,
			Longest:    res.Streak.Longest,
			NewRecord:  res.Streak.NewRecord,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /api/v1/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	learnerID, _ := handlers.LearnerIDFromContext(r.Context())

	rec, err := s.deps.Progress.GetProgress(r.Context(), learnerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// handleCompleteTopic handles POST /api/v1/progress/topics/{id}/complete
func (s *Server) handleCompleteTopic(w http.ResponseWriter, r *http.Request) {
	learnerID, _ := handlers.LearnerIDFromContext(r.Context())

	var req timeSpentRequest
	if err := handlers.DecodeAndValidate(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	res, err := s.deps.Progress.CompleteTopic(r.Context(), learnerID, r.PathValue("id"), req.seconds())
	s.writeMutation(w, r, res, err)
}

// viewHandler handles POST /api/v1/progress/{kind}/{id}/view
func (s *Server) viewHandler(kind progress.ContentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID, _ := handlers.LearnerIDFromContext(r.Context())

		var req timeSpentRequest
		if err := handlers.DecodeAndValidate(r, &req); err != nil {
			s.writeDomainError(w, r, err)
			return
		}

		res, err := s.deps.Progress.View(r.Context(), kind, learnerID, r.PathValue("id"), req.seconds())
		s.writeMutation(w, r, res, err)
	}
}

// handleRecordQuizResult handles POST /api/v1/progress/quizzes/{id}/result
func (s *Server) handleRecordQuizResult(w http.ResponseWriter, r *http.Request) {
	learnerID, _ := handlers.LearnerIDFromContext(r.Context())

	var req quizResultRequest
	if err := handlers.DecodeAndValidate(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	quiz := application.QuizResult{
		QuizID:         r.PathValue("id"),
		Score:          *req.Score,
		TotalQuestions: *req.TotalQuestions,
		CorrectAnswers: *req.CorrectAnswers,
		Mode:           req.Mode,
	}
	if req.TimeSpent != nil {
		quiz.TimeSpentSeconds = *req.TimeSpent
	}

	res, err := s.deps.Progress.RecordQuizResult(r.Context(), learnerID, quiz)
	s.writeMutation(w, r, res, err)
}

// handleListAchievements handles GET /api/v1/achievements
func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	learnerID, _ := handlers.LearnerIDFromContext(r.Context())

	views, err := s.deps.Progress.ListAchievements(r.Context(), learnerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, views)
}

func (s *Server) writeMutation(w http.ResponseWriter, r *http.Request, res *command.Result, err error) {
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newMutationResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps error kinds to HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *handlers.ValidationError
	if errors.As(err, &verr) {
		writeAPIError(w, http.StatusBadRequest, &APIError{
			Code:    "validation_error",
			Message: verr.Message,
			Fields:  verr.Fields,
		})
		return
	}

	status, code := statusFor(err)
	message := err.Error()
	var derr *shared.DomainError
	if errors.As(err, &derr) {
		message = derr.Message
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err), logger.String("path", r.URL.Path))
		if status == http.StatusInternalServerError {
			message = "An unexpected error occurred"
		}
	}
	writeJSONError(w, status, code, message)
}

func statusFor(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limit_exceeded"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case shared.IsUnavailable(err):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
