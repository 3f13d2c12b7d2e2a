package query

import (
	"context"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST STUDENTS QUERY
// Список записей, видимых сессии: весь состав для персонала,
// только свои записи для родителя и ученика.
// ══════════════════════════════════════════════════════════════════════════════

// ListStudentsQuery содержит параметры запроса.
type ListStudentsQuery struct {
	Session *access.Session

	// AtRiskOnly - вернуть только учеников группы риска.
	AtRiskOnly bool
}

// StudentListDTO - результат запроса.
type StudentListDTO struct {
	Students []StudentView `json:"students"`
	Total    int           `json:"total"`
	Tag      string        `json:"tag,omitempty"`
}

// ListStudentsHandler обрабатывает ListStudentsQuery.
type ListStudentsHandler struct {
	resolver *access.Resolver
	rosters  RosterReader
	text     TextPolicy
}

// NewListStudentsHandler создаёт обработчик.
func NewListStudentsHandler(resolver *access.Resolver, rosters RosterReader) *ListStudentsHandler {
	return &ListStudentsHandler{resolver: resolver, rosters: rosters}
}

// SetTextPolicy задаёт правило адаптации рекомендаций.
func (h *ListStudentsHandler) SetTextPolicy(p TextPolicy) {
	h.text = p
}

// Handle выполняет запрос.
func (h *ListStudentsHandler) Handle(_ context.Context, q ListStudentsQuery) (*StudentListDTO, error) {
	visible, err := h.resolver.Visible(q.Session, h.rosters.Roster())
	if err != nil {
		return nil, err
	}
	if q.AtRiskOnly {
		visible = analytics.AtRisk(visible)
	}

	dto := &StudentListDTO{
		Students: newStudentViews(visible, h.text.audience(q.Session)),
		Total:    len(visible),
	}
	if snap, err := h.rosters.Snapshot(); err == nil {
		dto.Tag = snap.Batch.Tag
	}
	return dto, nil
}
