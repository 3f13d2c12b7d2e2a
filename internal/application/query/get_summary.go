package query

import (
	"context"
	"time"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SUMMARY QUERY
// Сводка по группе для персонала: средние, тенденция, группа риска и
// групповые метрики последней загрузки.
// ══════════════════════════════════════════════════════════════════════════════

// GetSummaryQuery содержит параметры запроса.
type GetSummaryQuery struct {
	Session *access.Session
}

// SummaryDTO - сводка по группе.
type SummaryDTO struct {
	// Loaded - false, если состав ещё не загружен; остальные поля нулевые.
	Loaded bool `json:"loaded"`

	BatchID   string     `json:"batch_id,omitempty"`
	Tag       string     `json:"tag,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`

	Summary analytics.Summary   `json:"resumen"`
	Trend   analytics.Trend     `json:"tendencia"`
	AtRisk  []StudentView       `json:"alumnos_en_riesgo"`
	Metrics roster.GroupMetrics `json:"metricas_grupales"`
}

// GetSummaryHandler обрабатывает GetSummaryQuery.
type GetSummaryHandler struct {
	resolver *access.Resolver
	rosters  RosterReader
	text     TextPolicy
}

// NewGetSummaryHandler создаёт обработчик.
func NewGetSummaryHandler(resolver *access.Resolver, rosters RosterReader) *GetSummaryHandler {
	return &GetSummaryHandler{resolver: resolver, rosters: rosters}
}

// SetTextPolicy задаёт правило адаптации рекомендаций.
func (h *GetSummaryHandler) SetTextPolicy(p TextPolicy) {
	h.text = p
}

// Handle выполняет запрос.
func (h *GetSummaryHandler) Handle(_ context.Context, q GetSummaryQuery) (*SummaryDTO, error) {
	if _, err := h.resolver.Authorize(q.Session, access.ActionViewSummary); err != nil {
		return nil, err
	}

	snap, err := h.rosters.Snapshot()
	if err != nil {
		if shared.IsNotFound(err) {
			return &SummaryDTO{
				Summary: analytics.Summarize(nil),
				Trend:   analytics.TrendOf(nil),
				AtRisk:  []StudentView{},
			}, nil
		}
		return nil, shared.WrapError("query", "GetSummary", shared.ErrServiceUnavailable, "roster unavailable", err)
	}

	records := snap.Roster.Records()
	createdAt := snap.Batch.CreatedAt
	return &SummaryDTO{
		Loaded:    true,
		BatchID:   snap.Batch.ID,
		Tag:       snap.Batch.Tag,
		CreatedAt: &createdAt,
		Summary:   analytics.Summarize(records),
		Trend:     analytics.TrendOf(records),
		AtRisk:    newStudentViews(analytics.AtRisk(records), h.text.audience(q.Session)),
		Metrics:   snap.Batch.Metrics,
	}, nil
}
