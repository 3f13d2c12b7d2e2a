package command

import (
	"context"
	"fmt"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
)

// ClearRosterCommand drops the current roster. Stored batch history is kept.
type ClearRosterCommand struct {
	Session *access.Session
}

// ClearRosterHandler handles the ClearRosterCommand.
type ClearRosterHandler struct {
	resolver *access.Resolver
	store    RosterStore
}

// NewClearRosterHandler creates a new ClearRosterHandler.
func NewClearRosterHandler(resolver *access.Resolver, store RosterStore) *ClearRosterHandler {
	return &ClearRosterHandler{resolver: resolver, store: store}
}

// Handle executes the clear command.
func (h *ClearRosterHandler) Handle(ctx context.Context, cmd ClearRosterCommand) error {
	if _, err := h.resolver.Authorize(cmd.Session, access.ActionClearRoster); err != nil {
		return err
	}
	if err := h.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear_roster: %w", err)
	}
	return nil
}
