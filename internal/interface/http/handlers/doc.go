// Package handlers contains reusable HTTP building blocks for the progress API:
// bearer-token authentication, request validation, health checks and
// middleware.
//
// Health checks run in parallel with a per-check timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
// A failing optional check marks the service unhealthy but keeps it ready.
//
// RateLimit accepts any Limiter. LocalLimiter keeps a token bucket per client
// in memory; the Redis package provides a limiter shared across instances.
//
// Authenticated routes wrap their handler with JWTAuth.Middleware; the
// learner id is then available through LearnerIDFromContext.
package handlers
