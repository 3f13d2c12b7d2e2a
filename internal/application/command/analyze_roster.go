// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZE ROSTER COMMAND
// Runs the analysis over raw sheet rows and makes the result the current roster.
// ══════════════════════════════════════════════════════════════════════════════

// RosterStore is the write side of the roster lifecycle. roster.Context implements it.
type RosterStore interface {
	Replace(ctx context.Context, batch *roster.Batch) (*roster.Snapshot, error)
	Clear(ctx context.Context) error
}

// AnalyzeRosterCommand contains the uploaded rows.
type AnalyzeRosterCommand struct {
	// Session of the uploader. Only roles allowed to analyze may run it.
	Session *access.Session

	// Rows are the raw sheet rows keyed by column name.
	Rows []analytics.Row
}

// BatchResult describes the roster that became current.
type BatchResult struct {
	BatchID   string              `json:"batch_id"`
	Tag       string              `json:"tag"`
	Source    roster.Source       `json:"source"`
	Records   int                 `json:"records"`
	Metrics   roster.GroupMetrics `json:"metrics"`
	CreatedAt time.Time           `json:"created_at"`
}

func newBatchResult(b *roster.Batch) *BatchResult {
	return &BatchResult{
		BatchID:   b.ID,
		Tag:       b.Tag,
		Source:    b.Source,
		Records:   len(b.Records),
		Metrics:   b.Metrics,
		CreatedAt: b.CreatedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeRosterHandler handles the AnalyzeRosterCommand.
type AnalyzeRosterHandler struct {
	resolver *access.Resolver
	analyzer *analytics.Analyzer
	store    RosterStore
	now      func() time.Time
}

// NewAnalyzeRosterHandler creates a new AnalyzeRosterHandler.
func NewAnalyzeRosterHandler(
	resolver *access.Resolver,
	analyzer *analytics.Analyzer,
	store RosterStore,
) *AnalyzeRosterHandler {
	return &AnalyzeRosterHandler{
		resolver: resolver,
		analyzer: analyzer,
		store:    store,
		now:      time.Now,
	}
}

// Handle executes the analyze command.
func (h *AnalyzeRosterHandler) Handle(ctx context.Context, cmd AnalyzeRosterCommand) (*BatchResult, error) {
	// Authorization comes first so an unauthorized caller learns nothing about the payload.
	if _, err := h.resolver.Authorize(cmd.Session, access.ActionAnalyzeRoster); err != nil {
		return nil, err
	}

	result, err := h.analyzer.Analyze(cmd.Rows)
	if err != nil {
		return nil, err
	}

	now := h.now().UTC()
	batch := &roster.Batch{
		ID:        uuid.NewString(),
		Tag:       roster.BatchTag(now),
		Source:    roster.SourceAnalyze,
		CreatedBy: cmd.Session.Identity,
		CreatedAt: now,
		Records:   result.Records,
		Metrics:   result.Metrics,
	}

	snap, err := h.store.Replace(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("analyze_roster: failed to replace roster: %w", err)
	}
	return newBatchResult(snap.Batch), nil
}
