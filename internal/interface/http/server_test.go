package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physiohub/progress-engine/internal/application"
	"github.com/physiohub/progress-engine/internal/application/command"
	"github.com/physiohub/progress-engine/internal/application/query"
	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/internal/infrastructure/metrics"
	"github.com/physiohub/progress-engine/internal/infrastructure/persistence/memory"
	"github.com/physiohub/progress-engine/internal/interface/http/handlers"
	"github.com/physiohub/progress-engine/pkg/timeutil"
)

const testSecret = "test-secret"

type fixture struct {
	server  *Server
	auth    *handlers.JWTAuth
	metrics *metrics.Metrics
	health  *handlers.CompositeHealthChecker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := timeutil.NewFixedClock(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	m := metrics.New()
	engine := application.NewEngine(command.PipelineConfig{
		Repository: memory.NewProgressRepository(clock),
		Clock:      clock,
		Metrics:    m,
	})

	auth := handlers.NewJWTAuth(testSecret, "")
	health := handlers.NewCompositeHealthChecker("test")

	cfg := DefaultConfig()
	return &fixture{
		server: NewServer(cfg, Dependencies{
			Progress:      engine,
			Auth:          auth,
			HealthChecker: health,
			Metrics:       m,
		}),
		auth:    auth,
		metrics: m,
		health:  health,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path, learnerID, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if learnerID != "" {
		token, err := f.auth.Issue(learnerID, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/progress", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unauthorized", env.Error.Code)

	// Wrong signing key.
	other := handlers.NewJWTAuth("other-secret", "")
	token, err := other.Issue("learner-1", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestJSONBodyLimits(t *testing.T) {
	f := newFixture(t)
	token, err := f.auth.Issue("learner-1", nil)
	require.NoError(t, err)

	send := func(contentType, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/progress/topics/t1/complete", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnsupportedMediaType, send("text/plain", `timeSpent=10`).Code)
	assert.Equal(t, http.StatusOK, send("application/json; charset=utf-8", `{"timeSpent":10}`).Code)

	big := `{"timeSpent":1,"pad":"` + strings.Repeat("x", 70<<10) + `"}`
	rec := send("application/json", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "payload_too_large")
}

func TestJWTAuth_UserIDClaim(t *testing.T) {
	auth := handlers.NewJWTAuth(testSecret, "physiohub")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "learner-7",
		"iss":     "physiohub",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	id, err := auth.LearnerID(token)
	require.NoError(t, err)
	assert.Equal(t, "learner-7", id)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "learner-7",
		"iss": "physiohub",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.LearnerID(expired)
	assert.ErrorIs(t, err, handlers.ErrInvalidToken)

	wrongIssuer, err := handlers.NewJWTAuth(testSecret, "someone-else").Issue("learner-7", nil)
	require.NoError(t, err)
	_, err = auth.LearnerID(wrongIssuer)
	assert.ErrorIs(t, err, handlers.ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "physiohub"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.LearnerID(noSubject)
	assert.ErrorIs(t, err, handlers.ErrMissingSubject)
}

func TestGetProgress_CreatesEmptyRecord(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/progress", "learner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var record progress.Record
	require.NoError(t, json.Unmarshal(env.Data, &record))
	assert.Equal(t, "learner-1", record.LearnerID)
	assert.Empty(t, record.CompletedTopics)
	assert.Equal(t, int64(1), record.Version)
}

func TestCompleteTopic_UnlocksFirstTopic(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/progress/topics/anatomy-101/complete", "learner-1", `{"timeSpent":120}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp mutationResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Len(t, resp.Progress.CompletedTopics, 1)
	assert.Equal(t, "anatomy-101", resp.Progress.CompletedTopics[0].TopicID)
	assert.Equal(t, 120, resp.Progress.Stats.TotalStudyTimeSeconds)
	assert.Equal(t, "started", resp.Streak.Transition)
	assert.Equal(t, 1, resp.Streak.Current)
	require.Len(t, resp.NewAchievements, 1)
	assert.Equal(t, progress.AchievementID("first-topic"), resp.NewAchievements[0].AchievementID)

	// Repeat: no new achievements, time still accumulates.
	_, env = f.do(t, http.MethodPost, "/api/v1/progress/topics/anatomy-101/complete", "learner-1", "")
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Len(t, resp.Progress.CompletedTopics, 1)
	assert.Empty(t, resp.NewAchievements)
	assert.Equal(t, 120, resp.Progress.Stats.TotalStudyTimeSeconds)
}

func TestViewRoutes(t *testing.T) {
	f := newFixture(t)

	paths := []string{
		"/api/v1/progress/protocols/p1/view",
		"/api/v1/progress/guidelines/g1/view",
		"/api/v1/progress/models/m1/view",
		"/api/v1/progress/trigger-points/tp1/view",
	}
	for _, p := range paths {
		rec, _ := f.do(t, http.MethodPost, p, "learner-1", `{"timeSpent":10}`)
		assert.Equal(t, http.StatusOK, rec.Code, p)
	}

	_, env := f.do(t, http.MethodGet, "/api/v1/progress", "learner-1", "")
	var record progress.Record
	require.NoError(t, json.Unmarshal(env.Data, &record))
	assert.Len(t, record.ViewedProtocols, 1)
	assert.Len(t, record.ViewedGuidelines, 1)
	assert.Len(t, record.Viewed3DModels, 1)
	assert.Len(t, record.ViewedTriggerPoints, 1)
	assert.Equal(t, 40, record.Stats.TotalStudyTimeSeconds)
}

func TestRecordQuizResult(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/progress/quizzes/q1/result", "learner-1",
		`{"score":90,"totalQuestions":10,"correctAnswers":9,"timeSpent":300,"mode":"exam"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp mutationResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Len(t, resp.Progress.CompletedQuizzes, 1)
	assert.Equal(t, progress.QuizMode("exam"), resp.Progress.CompletedQuizzes[0].Mode)
	assert.Equal(t, 90, resp.Progress.Stats.AverageQuizScore)
	assert.Equal(t, 1, resp.Progress.Stats.TotalQuizzesPassed)
}

func TestRecordQuizResult_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"score above 100", `{"score":150,"totalQuestions":10,"correctAnswers":9}`, "score"},
		{"missing score", `{"totalQuestions":10,"correctAnswers":9}`, "score"},
		{"bad mode", `{"score":50,"totalQuestions":10,"correctAnswers":5,"mode":"casual"}`, "mode"},
		{"negative time", `{"score":50,"totalQuestions":10,"correctAnswers":5,"timeSpent":-1}`, "timeSpent"},
		{"correct above total", `{"score":50,"totalQuestions":10,"correctAnswers":11}`, ""},
		{"malformed json", `{"score":`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := f.do(t, http.MethodPost, "/api/v1/progress/quizzes/q1/result", "learner-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, "validation_error", env.Error.Code)
			if tt.field != "" {
				require.NotEmpty(t, env.Error.Fields)
				assert.Equal(t, tt.field, env.Error.Fields[0].Field)
			}
		})
	}

	// Nothing was written by the rejected requests.
	_, env := f.do(t, http.MethodGet, "/api/v1/progress", "learner-1", "")
	var record progress.Record
	require.NoError(t, json.Unmarshal(env.Data, &record))
	assert.Empty(t, record.CompletedQuizzes)
}

func TestListAchievements(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/achievements", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []query.AchievementView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 9)
	assert.False(t, views[0].Unlocked)

	f.do(t, http.MethodPost, "/api/v1/progress/topics/t1/complete", "learner-1", "")

	_, env = f.do(t, http.MethodGet, "/api/v1/achievements", "learner-1", "")
	require.NoError(t, json.Unmarshal(env.Data, &views))
	assert.Equal(t, "first-topic", views[0].ID)
	assert.True(t, views[0].Unlocked)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/achievements", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })

	rec, env := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, "Failing: postgres", status.Message)

	rec, _ = f.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth_OptionalCheckKeepsReady(t *testing.T) {
	f := newFixture(t)
	f.health.AddOptionalCheck("redis", func(context.Context) error { return errors.New("i/o timeout") })

	rec, env := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Checks["redis"].Optional)
	assert.True(t, status.Ready)

	rec, _ = f.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/progress/topics/t1/complete", "learner-1", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `progress_http_requests_total{method="POST",route="POST /api/v1/progress/topics/{id}/complete",status="200"} 1`)
	assert.Contains(t, body, `progress_commands_total{operation="complete_topic",outcome="ok"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{shared.ErrInvalidLearnerID, http.StatusBadRequest},
		{shared.ErrRecordNotFound, http.StatusNotFound},
		{shared.ErrConcurrentModification, http.StatusConflict},
		{shared.ErrLockNotAcquired, http.StatusConflict},
		{shared.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{shared.ErrRateLimited, http.StatusTooManyRequests},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestRateLimitedServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerMin = 2
	srv := NewServer(cfg, Dependencies{})
	defer srv.Shutdown(context.Background())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
		req.RemoteAddr = "1.2.3.4:5555"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
			assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
