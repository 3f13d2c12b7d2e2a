package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT ROSTER COMMAND
// Accepts already-analyzed records from a trusted service (authenticated
// by API key at the transport layer).
// ══════════════════════════════════════════════════════════════════════════════

// ImportRosterCommand contains pre-computed records.
type ImportRosterCommand struct {
	// Service identifies the caller, e.g. "scoring-pipeline".
	Service string

	// Tag overrides the generated batch tag when set.
	Tag string

	Records []roster.StudentRecord

	// Metrics are recomputed from Records when nil.
	Metrics *roster.GroupMetrics
}

// Validate validates the command.
func (c ImportRosterCommand) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return errors.New("import_roster: service is required")
	}
	if len(c.Records) == 0 {
		return errors.New("import_roster: records are required")
	}
	return nil
}

// ImportRosterHandler handles the ImportRosterCommand.
type ImportRosterHandler struct {
	store RosterStore
	now   func() time.Time
}

// NewImportRosterHandler creates a new ImportRosterHandler.
func NewImportRosterHandler(store RosterStore) *ImportRosterHandler {
	return &ImportRosterHandler{store: store, now: time.Now}
}

// Handle executes the import command.
func (h *ImportRosterHandler) Handle(ctx context.Context, cmd ImportRosterCommand) (*BatchResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "ImportRoster", shared.ErrValidation, err.Error(), err)
	}

	metrics := analytics.GroupMetricsOf(cmd.Records)
	if cmd.Metrics != nil {
		metrics = *cmd.Metrics
	}

	now := h.now().UTC()
	tag := strings.TrimSpace(cmd.Tag)
	if tag == "" {
		tag = roster.BatchTag(now)
	}

	batch := &roster.Batch{
		ID:        uuid.NewString(),
		Tag:       tag,
		Source:    roster.SourceImport,
		CreatedBy: cmd.Service,
		CreatedAt: now,
		Records:   cmd.Records,
		Metrics:   metrics,
	}

	snap, err := h.store.Replace(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("import_roster: failed to replace roster: %w", err)
	}
	return newBatchResult(snap.Batch), nil
}
