// Package metrics defines the Prometheus collectors exported by the progress engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "progress"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal              *prometheus.CounterVec
	commandDuration            *prometheus.HistogramVec
	optimisticRetries          *prometheus.CounterVec
	achievementsUnlocked       *prometheus.CounterVec
	achievementPersistFailures prometheus.Counter
	streakTransitions          *prometheus.CounterVec

	eventsPublished      *prometheus.CounterVec
	eventHandlerDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Progress mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Progress mutation latency including lock wait and retries.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
		optimisticRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_retries_total",
			Help:      "Operations re-run after a record version conflict.",
		}, []string{"operation"}),
		achievementsUnlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_unlocked_total",
			Help:      "Achievements unlocked and persisted.",
		}, []string{"achievement"}),
		achievementPersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievement_persist_failures_total",
			Help:      "Unlock batches that could not be saved after the primary write.",
		}),
		streakTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streak_transitions_total",
			Help:      "Streak state changes by transition.",
		}, []string{"transition"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the event bus.",
		}, []string{"event_type"}),
		eventHandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Event handler execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}

	reg.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.optimisticRetries,
		m.achievementsUnlocked,
		m.achievementPersistFailures,
		m.streakTransitions,
		m.eventsPublished,
		m.eventHandlerDuration,
		m.httpRequests,
		m.httpDuration,
		m.httpInFlight,
	)

	return m
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress commands
// ─────────────────────────────────────────────────────────────────────────────

// ObserveCommand records one finished mutation.
func (m *Metrics) ObserveCommand(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.commandsTotal.WithLabelValues(operation, outcome).Inc()
	m.commandDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncOptimisticRetry counts a retry after a version conflict.
func (m *Metrics) IncOptimisticRetry(operation string) {
	if m == nil {
		return
	}
	m.optimisticRetries.WithLabelValues(operation).Inc()
}

// IncAchievementUnlocked counts a persisted unlock.
func (m *Metrics) IncAchievementUnlocked(achievementID string) {
	if m == nil {
		return
	}
	m.achievementsUnlocked.WithLabelValues(achievementID).Inc()
}

// IncAchievementPersistFailure counts a failed unlock save.
func (m *Metrics) IncAchievementPersistFailure() {
	if m == nil {
		return
	}
	m.achievementPersistFailures.Inc()
}

// IncStreakTransition counts a streak change.
func (m *Metrics) IncStreakTransition(transition string) {
	if m == nil {
		return
	}
	m.streakTransitions.WithLabelValues(transition).Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// Event bus
// ─────────────────────────────────────────────────────────────────────────────

// IncEventPublished counts an event handed to the bus.
func (m *Metrics) IncEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// ObserveEventHandler records a handler execution.
func (m *Metrics) ObserveEventHandler(eventType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.eventHandlerDuration.WithLabelValues(eventType, outcome).Observe(d.Seconds())
}

// ─────────────────────────────────────────────────────────────────────────────
// HTTP
// ─────────────────────────────────────────────────────────────────────────────

// HTTPStarted marks a request as in flight and returns its completion callback.
func (m *Metrics) HTTPStarted() func(route, method string, status int, d time.Duration) {
	if m == nil {
		return func(string, string, int, time.Duration) {}
	}
	m.httpInFlight.Inc()
	return func(route, method string, status int, d time.Duration) {
		m.httpInFlight.Dec()
		m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
	}
}
