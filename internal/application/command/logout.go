package command

import (
	"context"
	"fmt"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// LogoutCommand terminates the session behind a bearer token.
type LogoutCommand struct {
	Token string
}

// LogoutHandler handles the LogoutCommand.
type LogoutHandler struct {
	// terminator is nil for stateless tokens; logout is then a no-op.
	terminator access.SessionTerminator
}

// NewLogoutHandler creates a new LogoutHandler.
func NewLogoutHandler(terminator access.SessionTerminator) *LogoutHandler {
	return &LogoutHandler{terminator: terminator}
}

// Handle executes the logout command.
func (h *LogoutHandler) Handle(ctx context.Context, cmd LogoutCommand) error {
	if cmd.Token == "" {
		return shared.ErrNoSession
	}
	if h.terminator == nil {
		return nil
	}
	if err := h.terminator.Terminate(ctx, cmd.Token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
