package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports the status of the service's dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns an error when the dependency is unhealthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated result. Healthy means every check passed;
// Ready means every required check passed.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type namedCheck struct {
	name     string
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker runs named checks concurrently, each under its own
// timeout.
type CompositeHealthChecker struct {
	version string
	started time.Time

	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
}

// NewCompositeHealthChecker creates a checker with a 5s per-check timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
	}
}

// SetTimeout changes the per-check timeout.
func (c *CompositeHealthChecker) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// AddCheck registers a required check, replacing one of the same name.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.add(namedCheck{name: name, fn: fn})
}

// AddOptionalCheck registers a check whose failure marks the service
// unhealthy but still ready.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.add(namedCheck{name: name, fn: fn, optional: true})
}

func (c *CompositeHealthChecker) add(nc namedCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = slices.DeleteFunc(c.checks, func(x namedCheck) bool { return x.name == nc.name })
	c.checks = append(c.checks, nc)
}

// Check runs every registered check.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	timeout := c.timeout
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, nc := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := nc.fn(cctx)
			res := CheckResult{
				Healthy:  err == nil,
				Optional: nc.optional,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Message = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	var failed []string
	for i, nc := range checks {
		res := results[i]
		status.Checks[nc.name] = res
		if res.Healthy {
			continue
		}
		failed = append(failed, nc.name)
		status.Healthy = false
		if !nc.optional {
			status.Ready = false
		}
	}

	switch {
	case len(checks) == 0:
		status.Message = "No health checks registered"
	case len(failed) == 0:
		status.Message = "All checks passed"
	default:
		slices.Sort(failed)
		status.Message = "Failing: " + strings.Join(failed, ", ")
	}
	return status
}

// Pinger is implemented by the PostgreSQL connection and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck checks a dependency by pinging it.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}
