package query

import (
	"context"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT QUERY
// Возвращает запись одного ученика с учётом прав сессии.
// ══════════════════════════════════════════════════════════════════════════════

// RosterReader - источник текущего состава. Реализуется roster.Context.
type RosterReader interface {
	Roster() *roster.Roster
	Snapshot() (*roster.Snapshot, error)
}

// GetStudentQuery содержит параметры запроса.
type GetStudentQuery struct {
	// Session - сессия запрашивающего; nil означает отсутствие входа.
	Session *access.Session

	// StudentID - ID в том виде, в каком он пришёл от клиента.
	StudentID string
}

// GetStudentHandler обрабатывает GetStudentQuery.
type GetStudentHandler struct {
	resolver *access.Resolver
	rosters  RosterReader
	text     TextPolicy
}

// NewGetStudentHandler создаёт обработчик.
func NewGetStudentHandler(resolver *access.Resolver, rosters RosterReader) *GetStudentHandler {
	return &GetStudentHandler{resolver: resolver, rosters: rosters}
}

// SetTextPolicy задаёт правило адаптации рекомендаций.
func (h *GetStudentHandler) SetTextPolicy(p TextPolicy) {
	h.text = p
}

// Handle выполняет запрос. Ошибки доступа возвращаются без обёртки, чтобы
// вызывающий мог различить их через errors.Is.
func (h *GetStudentHandler) Handle(_ context.Context, q GetStudentQuery) (*StudentView, error) {
	rec, err := h.resolver.Resolve(q.Session, q.StudentID, h.rosters.Roster())
	if err != nil {
		return nil, err
	}
	view := NewStudentView(rec, h.text.audience(q.Session))
	return &view, nil
}
