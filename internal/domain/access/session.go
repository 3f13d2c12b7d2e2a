package access

import (
	"context"
	"strconv"

	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// Session - сессия запрашивающего. Создаётся внешним сервисом при входе
// и уничтожается при выходе.
type Session struct {
	Role        Role   `json:"role"`
	Identity    string `json:"email"`
	DisplayName string `json:"name"`
}

// SessionSource получает сессию по непрозрачному токену.
// Для отсутствующей или просроченной сессии возвращает ErrSessionNotFound
// или ErrInvalidToken.
type SessionSource interface {
	Lookup(ctx context.Context, token string) (*Session, error)
}

// SessionTerminator уничтожает сессию при выходе.
type SessionTerminator interface {
	Terminate(ctx context.Context, token string) error
}

type sessionKey struct{}

// WithSession кладёт сессию в контекст запроса.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom достаёт сессию из контекста; nil, если её нет.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// ParseStudentID строго разбирает ID ученика как десятичное целое.
// Нечисловые значения отклоняются, а не приводятся.
func ParseStudentID(raw string) (int, error) {
	if raw == "" || raw[0] == '+' {
		return 0, shared.ErrInvalidStudentID
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.WrapError("access", "ParseID", shared.ErrInvalidStudentID,
			"student id must be a base-10 integer", err)
	}
	return id, nil
}
