// Package jobs contains the scheduled jobs of the analytics service.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/analizadordatos/smart-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH ROSTER JOB
// ══════════════════════════════════════════════════════════════════════════════

// RosterRefresher re-syncs an in-memory roster with durable storage.
type RosterRefresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// RefreshRosterJob picks up batches replaced or cleared by other instances.
type RefreshRosterJob struct {
	rosters RosterRefresher
	timeout time.Duration
	logger  *logger.Logger

	swaps atomic.Int64
}

// NewRefreshRosterJob creates the job. A non-positive timeout becomes 30s.
func NewRefreshRosterJob(rosters RosterRefresher, timeout time.Duration, log *logger.Logger) *RefreshRosterJob {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RefreshRosterJob{rosters: rosters, timeout: timeout, logger: log}
}

// Name implements scheduler.Job.
func (j *RefreshRosterJob) Name() string { return "refresh_roster" }

// Description implements scheduler.Job.
func (j *RefreshRosterJob) Description() string {
	return "Reloads the current roster when another instance replaced or cleared it"
}

// Run implements scheduler.Job.
func (j *RefreshRosterJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	changed, err := j.rosters.Refresh(ctx)
	if err != nil {
		return err
	}
	if changed {
		j.swaps.Add(1)
		j.logger.Info("current roster changed in storage, snapshot swapped")
	}
	return nil
}

// Swaps returns how many times Run replaced the in-memory snapshot.
func (j *RefreshRosterJob) Swaps() int64 {
	return j.swaps.Load()
}
