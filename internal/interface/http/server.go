// Package http exposes the progress engine over a JSON REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/physiohub/progress-engine/internal/application"
	"github.com/physiohub/progress-engine/internal/application/command"
	"github.com/physiohub/progress-engine/internal/application/query"
	"github.com/physiohub/progress-engine/internal/domain/progress"
	"github.com/physiohub/progress-engine/internal/infrastructure/metrics"
	"github.com/physiohub/progress-engine/internal/interface/http/handlers"
	"github.com/physiohub/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	MaxBodyBytes    int64
	EnableCORS      bool
	AllowedOrigins  []string
	EnableMetrics   bool
	RateLimitPerMin int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		MaxBodyBytes:    64 << 10,
		EnableCORS:      true,
		AllowedOrigins:  []string{"*"},
		EnableMetrics:   true,
		RateLimitPerMin: 0,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// ProgressService is the engine surface used by the handlers.
// *application.Engine implements it.
type ProgressService interface {
	GetProgress(ctx context.Context, learnerID string) (*progress.Record, error)
	CompleteTopic(ctx context.Context, learnerID, topicID string, timeSpentSeconds int) (*command.Result, error)
	View(ctx context.Context, kind progress.ContentKind, learnerID, refID string, timeSpentSeconds int) (*command.Result, error)
	RecordQuizResult(ctx context.Context, learnerID string, r application.QuizResult) (*command.Result, error)
	ListAchievements(ctx context.Context, learnerID string) ([]query.AchievementView, error)
}

// Dependencies contains everything the handlers need.
type Dependencies struct {
	Progress      ProgressService
	Auth          *handlers.JWTAuth
	HealthChecker handlers.HealthChecker
	Metrics       *metrics.Metrics
	Logger        *logger.Logger

	// RateLimiter is shared between instances. When nil and
	// Config.RateLimitPerMin is set, each instance limits on its own.
	RateLimiter handlers.Limiter
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	handler    http.Handler
	logger     *logger.Logger

	limiter handlers.Limiter
	local   *handlers.LocalLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.With(logger.Component("http"))

	switch {
	case deps.RateLimiter != nil:
		s.limiter = deps.RateLimiter
	case config.RateLimitPerMin > 0:
		s.local = handlers.NewLocalLimiter(config.RateLimitPerMin, time.Minute)
		s.limiter = s.local
	}

	s.setupRoutes()
	s.handler = s.buildMiddlewareChain(s.router)

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Metrics
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /health/live", s.handleLive)
	s.router.HandleFunc("GET /health/ready", s.handleReady)
	if s.config.EnableMetrics {
		s.router.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	authed := s.authenticated
	s.router.Handle("GET /api/v1/progress", authed(s.handleGetProgress))
	s.router.Handle("POST /api/v1/progress/topics/{id}/complete", authed(s.handleCompleteTopic))
	s.router.Handle("POST /api/v1/progress/protocols/{id}/view", authed(s.viewHandler(progress.ContentProtocol)))
	s.router.Handle("POST /api/v1/progress/guidelines/{id}/view", authed(s.viewHandler(progress.ContentGuideline)))
	s.router.Handle("POST /api/v1/progress/models/{id}/view", authed(s.viewHandler(progress.ContentModel3D)))
	s.router.Handle("POST /api/v1/progress/trigger-points/{id}/view", authed(s.viewHandler(progress.ContentTriggerPoint)))
	s.router.Handle("POST /api/v1/progress/quizzes/{id}/result", authed(s.handleRecordQuizResult))

	var achievements http.Handler = http.HandlerFunc(s.handleListAchievements)
	if s.deps.Auth != nil {
		achievements = s.deps.Auth.OptionalMiddleware(achievements)
	}
	s.router.Handle("GET /api/v1/achievements", achievements)
}

// authenticated wraps a handler with the JWT middleware. Without an
// authenticator every protected route answers 401.
func (s *Server) authenticated(h http.HandlerFunc) http.Handler {
	chain := handlers.Chain(handlers.PrivateResponse, handlers.JSONBody(s.config.MaxBodyBytes, writeJSONError))
	if s.deps.Auth == nil {
		return chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "authentication is not configured")
		}))
	}
	return chain(s.deps.Auth.Middleware(h))
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

// buildMiddlewareChain wraps the router. The rate limit runs first so refused
// requests cost nothing; metrics stay innermost so they see r.Pattern.
func (s *Server) buildMiddlewareChain(router http.Handler) http.Handler {
	var mw []handlers.Middleware
	if s.limiter != nil {
		mw = append(mw, handlers.RateLimit(s.limiter, time.Minute, writeJSONError))
	}
	if s.config.EnableCORS {
		mw = append(mw, handlers.CORS(s.config.AllowedOrigins))
	}
	mw = append(mw,
		handlers.SecureHeaders,
		handlers.RequestID(s.logger),
		handlers.Recover(writeJSONError),
		handlers.AccessLog,
		s.observe,
	)
	return handlers.Chain(mw...)(router)
}

func (s *Server) observe(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := s.deps.Metrics.HTTPStarted()
		start := time.Now()
		sr := handlers.Record(w)

		next.ServeHTTP(sr, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		done(route, r.Method, sr.Status, time.Since(start))
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.local != nil {
		s.local.Stop()
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
