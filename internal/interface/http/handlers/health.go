package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker reports service health.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns an error if the dependency is unhealthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated result.
type HealthStatus struct {
	// Healthy is false if any critical check failed.
	Healthy bool `json:"healthy"`

	// Ready is false if any check failed, critical or not.
	Ready bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]any         `json:"details,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// DetailFunc reports a point-in-time value shown next to the checks, such as
// pool statistics or a circuit breaker state.
type DetailFunc func() any

type namedCheck struct {
	fn       HealthCheckFunc
	critical bool
}

// CompositeHealthChecker runs registered checks in parallel.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]namedCheck
	details   map[string]DetailFunc
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a checker with a 5s per-check timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]namedCheck),
		details:   make(map[string]DetailFunc),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// AddCheck registers a critical check. A failure makes the service unhealthy.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(name, check, true)
}

// AddOptionalCheck registers a check whose failure only affects readiness.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.add(name, check, false)
}

func (c *CompositeHealthChecker) add(name string, check HealthCheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = namedCheck{fn: check, critical: critical}
}

// AddDetail registers a value reported under details. Details never affect
// health or readiness.
func (c *CompositeHealthChecker) AddDetail(name string, fn DetailFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[name] = fn
}

// Check runs all checks and aggregates the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]namedCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	details := make(map[string]DetailFunc, len(c.details))
	for name, fn := range c.details {
		details[name] = fn
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(details) > 0 {
		status.Details = make(map[string]any, len(details))
		for name, fn := range details {
			status.Details[name] = fn()
		}
	}
	if len(checks) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	type outcome struct {
		name   string
		result CheckResult
	}
	results := make(chan outcome, len(checks))

	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check namedCheck) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := check.fn(checkCtx)

			res := CheckResult{
				Healthy:  err == nil,
				Critical: check.critical,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Message = err.Error()
			}
			results <- outcome{name, res}
		}(name, check)
	}
	wg.Wait()
	close(results)

	var failed []string
	for o := range results {
		status.Checks[o.name] = o.result
		if o.result.Healthy {
			continue
		}
		failed = append(failed, o.name)
		status.Ready = false
		if o.result.Critical {
			status.Healthy = false
		}
	}

	if len(failed) == 0 {
		status.Message = "All checks passed"
	} else {
		sort.Strings(failed)
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

// ─────────────────────────────────────────────────────────────────────────────
// Predefined checks
// ─────────────────────────────────────────────────────────────────────────────

// Pinger is implemented by the database connection and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck wraps a Pinger.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// RosterState reports whether a roster is loaded.
type RosterState interface {
	Loaded() bool
}

// NewRosterLoadedCheck fails until a roster has been loaded or uploaded.
func NewRosterLoadedCheck(rs RosterState) HealthCheckFunc {
	return func(context.Context) error {
		if !rs.Loaded() {
			return errRosterNotLoaded
		}
		return nil
	}
}

type healthError string

func (e healthError) Error() string { return string(e) }

const errRosterNotLoaded = healthError("no roster loaded")
