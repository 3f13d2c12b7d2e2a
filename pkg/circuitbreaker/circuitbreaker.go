// Package circuitbreaker stops calling a failing dependency for a cool-down
// period. The roster cache and session store run their Redis calls through it
// so an unreachable Redis costs one fast error instead of a timeout per request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling fn while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial slots are taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsRejected reports whether err came from the breaker rather than fn.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// Config holds breaker settings.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int

	// Cooldown is spent in the open state before a trial call is let through.
	Cooldown time.Duration

	MaxHalfOpenRequests int

	OnStateChange func(name string, from, to State)

	// IsFailure filters errors that count against the dependency.
	// Nil counts every non-nil error.
	IsFailure func(error) bool
}

// DefaultConfig returns a Config with the given name.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Cooldown:            30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Option configures a breaker.
type Option func(*Config)

func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Cooldown = d
		}
	}
}

func WithMaxHalfOpenRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHalfOpenRequests = n
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// Counts are cumulative call statistics.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	trials   int
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := DefaultConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{config: cfg, now: time.Now, state: StateClosed}
}

// Execute runs fn unless the breaker rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteWithFallback calls fallback when the breaker rejects the call.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := cb.Execute(ctx, fn)
	if IsRejected(err) {
		return fallback(err)
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trials = 1
		return nil
	case StateHalfOpen:
		if cb.trials < cb.config.MaxHalfOpenRequests {
			cb.trials++
			return nil
		}
		return ErrTooManyRequests
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++

	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	if !failed {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	cb.trials = 0
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.trials = 0
}

func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// ─────────────────────────────────────────────────────────────────────────────
// Presets
// ─────────────────────────────────────────────────────────────────────────────

// CacheBreaker guards the roster cache. Errors matched by isBenign, such as
// misses, are not failures.
func CacheBreaker(isBenign func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"redis-cache",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithCooldown(15*time.Second),
		WithIsFailure(func(err error) bool { return !isBenign(err) }),
		WithOnStateChange(onStateChange),
	)
}

// SessionBreaker guards session lookups. Errors matched by isBenign, such as
// unknown tokens, are not failures.
func SessionBreaker(isBenign func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"redis-session",
		WithFailureThreshold(5),
		WithSuccessThreshold(2),
		WithCooldown(10*time.Second),
		WithMaxHalfOpenRequests(2),
		WithIsFailure(func(err error) bool { return !isBenign(err) }),
		WithOnStateChange(onStateChange),
	)
}
