package query

import (
	"context"
	"errors"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// GetSessionQuery возвращает описание текущей сессии.
type GetSessionQuery struct {
	Session *access.Session
}

// SessionDTO - роль, личность и разрешённые действия.
type SessionDTO struct {
	Role        string            `json:"role"`
	Email       string            `json:"email"`
	Name        string            `json:"name,omitempty"`
	Permissions map[string]string `json:"permissions"`
}

// GetSessionHandler обрабатывает GetSessionQuery.
type GetSessionHandler struct {
	resolver *access.Resolver
}

// NewGetSessionHandler создаёт обработчик.
func NewGetSessionHandler(resolver *access.Resolver) *GetSessionHandler {
	return &GetSessionHandler{resolver: resolver}
}

// Handle выполняет запрос. Сессия с неизвестной ролью отклоняется.
func (h *GetSessionHandler) Handle(_ context.Context, q GetSessionQuery) (*SessionDTO, error) {
	perms := make(map[string]string)
	for _, action := range access.AllActions() {
		scope, err := h.resolver.Authorize(q.Session, action)
		if err != nil {
			if errors.Is(err, shared.ErrRoleNotAllowed) {
				continue
			}
			return nil, err
		}
		perms[action.String()] = scope.String()
	}
	return &SessionDTO{
		Role:        q.Session.Role.String(),
		Email:       q.Session.Identity,
		Name:        q.Session.DisplayName,
		Permissions: perms,
	}, nil
}
