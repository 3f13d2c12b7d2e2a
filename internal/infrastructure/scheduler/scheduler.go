// Package scheduler runs periodic background jobs such as re-syncing the
// in-memory roster with the batch other instances persisted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/analizadordatos/smart-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job.
	// The context is cancelled when the scheduler is stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next time the job should run after the given time.
	Next(t time.Time) time.Time

	String() string
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs.
type Scheduler struct {
	mu sync.RWMutex

	logger *logger.Logger
	tick   time.Duration
	now    func() time.Time

	jobs      map[string]*scheduledJob
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	metrics  *Metrics
	lastRuns map[string]*JobResult
}

type scheduledJob struct {
	job       Job
	schedule  Schedule
	busy      bool
	lastRun   time.Time
	nextRun   time.Time
	runCount  int64
	failCount int64
}

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *logger.Logger

	// Tick is how often due jobs are checked (default: 1s).
	Tick time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger: logger.Default(),
		Tick:   time.Second,
	}
}

// New creates a new Scheduler with the given configuration.
func New(config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.Tick <= 0 {
		config.Tick = time.Second
	}

	return &Scheduler{
		logger:   config.Logger.With(logger.Component("scheduler")),
		tick:     config.Tick,
		now:      time.Now,
		jobs:     make(map[string]*scheduledJob),
		metrics:  NewMetrics(),
		lastRuns: make(map[string]*JobResult),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB REGISTRATION
// ══════════════════════════════════════════════════════════════════════════════

// Register adds a job to the scheduler with the given schedule.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	sj := &scheduledJob{
		job:      job,
		schedule: schedule,
		nextRun:  schedule.Next(s.now()),
	}
	s.jobs[name] = sj

	s.logger.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()),
		logger.Time("next_run", sj.nextRun),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.startedAt = s.now()
	count := len(s.jobs)
	s.mu.Unlock()

	s.logger.Info("scheduler started", logger.Int("jobs_count", count))

	s.wg.Add(1)
	go s.runLoop(ctx)
	return nil
}

// Stop cancels the loop and waits for running jobs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("scheduler stopped", logger.Duration("uptime", s.now().Sub(s.startedAt)))
	return nil
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER LOOP
// ══════════════════════════════════════════════════════════════════════════════

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunJobs(ctx)
		}
	}
}

// checkAndRunJobs starts every due job that is not already running.
func (s *Scheduler) checkAndRunJobs(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := make([]*scheduledJob, 0, len(s.jobs))
	for _, sj := range s.jobs {
		if !sj.busy && !now.Before(sj.nextRun) {
			sj.busy = true
			sj.lastRun = now
			sj.nextRun = sj.schedule.Next(now)
			sj.runCount++
			due = append(due, sj)
		}
	}
	s.mu.Unlock()

	for _, sj := range due {
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			s.execute(ctx, sj)
		}(sj)
	}
}

// execute runs a job and records the result.
func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob) {
	name := sj.job.Name()
	startedAt := s.now()

	err := sj.job.Run(ctx)
	completedAt := s.now()

	result := JobResult{
		JobName:     name,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Success:     err == nil,
		Error:       err,
	}

	s.metrics.RecordExecution(name, result.Duration, result.Success)

	s.mu.Lock()
	sj.busy = false
	if err != nil {
		sj.failCount++
	}
	s.lastRuns[name] = &result
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("job failed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration),
			logger.Err(err),
		)
	} else {
		s.logger.Debug("job completed",
			logger.String("job", name),
			logger.Duration("duration", result.Duration),
		)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo contains information about a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// GetJobInfo returns information about a specific job.
func (s *Scheduler) GetJobInfo(jobName string) (*JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sj, exists := s.jobs[jobName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	return &JobInfo{
		Name:        jobName,
		Description: sj.job.Description(),
		Schedule:    sj.schedule.String(),
		LastRun:     sj.lastRun,
		NextRun:     sj.nextRun,
		RunCount:    sj.runCount,
		FailCount:   sj.failCount,
		LastResult:  s.lastRuns[jobName],
	}, nil
}

// Metrics returns scheduler metrics.
func (s *Scheduler) Metrics() *Metrics {
	return s.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics tracks job executions.
type Metrics struct {
	mu sync.RWMutex

	totalExecutions int64
	totalFailures   int64
	totalDuration   time.Duration
	failuresByJob   map[string]int64
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{failuresByJob: make(map[string]int64)}
}

// RecordExecution records a job execution.
func (m *Metrics) RecordExecution(jobName string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalExecutions++
	m.totalDuration += duration
	if !success {
		m.totalFailures++
		m.failuresByJob[jobName]++
	}
}

// MetricsSnapshot is a point-in-time view of Metrics.
type MetricsSnapshot struct {
	TotalExecutions int64
	TotalFailures   int64
	SuccessRate     float64
	AverageDuration time.Duration
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		TotalExecutions: m.totalExecutions,
		TotalFailures:   m.totalFailures,
	}
	if m.totalExecutions > 0 {
		snap.AverageDuration = m.totalDuration / time.Duration(m.totalExecutions)
		snap.SuccessRate = float64(m.totalExecutions-m.totalFailures) / float64(m.totalExecutions)
	}
	return snap
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)
