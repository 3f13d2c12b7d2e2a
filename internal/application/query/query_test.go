package query

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

func loadedContext(t *testing.T) *roster.Context {
	t.Helper()
	rc := roster.NewContext()
	_, err := rc.Replace(context.Background(), &roster.Batch{
		ID:        "b-1",
		Tag:       "Carga_20260105_081500",
		Source:    roster.SourceAnalyze,
		CreatedAt: time.Date(2026, 1, 5, 8, 15, 0, 0, time.UTC),
		Records: []roster.StudentRecord{
			{ID: 1, Name: "Andrea Lopez", GradeAvg: 92, AttendanceAvg: 96, ConductAvg: 95, RiskProbability: 0.12,
				Recommendation: "💎 EXCELENCIA. Rendimiento y consistencia ejemplares. Acciones: Asignar proyectos."},
			{ID: 2, Name: "Marco Diaz", GradeAvg: 64, AttendanceAvg: 70, ConductAvg: 72, RiskProbability: 0.8234,
				Recommendation: "🚨 RIESGO INMINENTE (82.3%). Acciones: Plan de Intervención Urgente, Contacto familiar, Tutoría focalizada en materias de bajo rendimiento."},
		},
		Metrics: roster.GroupMetrics{GradeMean: 78},
	})
	require.NoError(t, err)
	return rc
}

func resolver() *access.Resolver {
	return access.NewResolver(nil, access.IdentityMatcher{LegacyNameMatch: true})
}

func TestAdaptRecommendation(t *testing.T) {
	text := "🚨 RIESGO INMINENTE (82.3%). Acciones: Plan de Intervención Urgente, Contacto familiar, Tutoría focalizada en materias de bajo rendimiento."

	assert.Equal(t, text, AdaptRecommendation(access.RoleAdmin, text))
	assert.Equal(t, text, AdaptRecommendation(access.RoleDocente, text))

	assert.Equal(t,
		"🚨 🛑 ATENCIÓN URGENTE. Su hijo/a necesita apoyo inmediato. (82.3%). Sugerencias de Apoyo Familiar: "+
			"Plan de Intervención Urgente, Contacto familiar, sesiones de refuerzo escolar en materias de bajo rendimiento.",
		AdaptRecommendation(access.RolePadre, text))

	assert.Equal(t,
		"✨ RENDIMIENTO Tú puedes ser más constante. ¡Sé disciplinado!. Mi Plan de Foco: x ¡Tú puedes lograr un gran avance!",
		AdaptRecommendation(access.RoleAlumno, "✨ RENDIMIENTO INCONSTANTE. Acciones: x"))
}

func TestNewStudentView(t *testing.T) {
	rec := roster.StudentRecord{ID: 3, Name: "X", GradeAvg: 68.456, AttendanceAvg: 90, ConductAvg: 90, RiskProbability: 0.12345}
	v := NewStudentView(rec, access.RoleDocente)

	assert.Equal(t, 68.46, v.Grade)
	assert.Equal(t, 12.3, v.RiskPercent)
	assert.True(t, v.AtRisk)
}

func TestGetStudent(t *testing.T) {
	h := NewGetStudentHandler(resolver(), loadedContext(t))
	ctx := context.Background()

	view, err := h.Handle(ctx, GetStudentQuery{
		Session:   &access.Session{Role: access.RolePadre, Identity: "marco.diaz@mail.com"},
		StudentID: "2",
	})
	require.NoError(t, err)
	assert.Equal(t, "Marco Diaz", view.Name)
	assert.Contains(t, view.Recommendation, "ATENCIÓN URGENTE")

	_, err = h.Handle(ctx, GetStudentQuery{
		Session:   &access.Session{Role: access.RolePadre, Identity: "marco.diaz@mail.com"},
		StudentID: "1",
	})
	assert.ErrorIs(t, err, shared.ErrIdentityMismatch)

	_, err = h.Handle(ctx, GetStudentQuery{StudentID: "1"})
	assert.True(t, shared.IsUnauthenticated(err))
}

func TestGetStudent_EmptyRosterIsNotFound(t *testing.T) {
	h := NewGetStudentHandler(resolver(), roster.NewContext())
	_, err := h.Handle(context.Background(), GetStudentQuery{Session: &access.Session{Role: access.RoleAdmin}, StudentID: "1"})
	assert.True(t, shared.IsNotFound(err))
}

func TestListStudents(t *testing.T) {
	h := NewListStudentsHandler(resolver(), loadedContext(t))
	ctx := context.Background()

	all, err := h.Handle(ctx, ListStudentsQuery{Session: &access.Session{Role: access.RoleDocente}})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, "Carga_20260105_081500", all.Tag)

	risky, err := h.Handle(ctx, ListStudentsQuery{Session: &access.Session{Role: access.RoleAdmin}, AtRiskOnly: true})
	require.NoError(t, err)
	require.Len(t, risky.Students, 1)
	assert.Equal(t, 2, risky.Students[0].ID)

	own, err := h.Handle(ctx, ListStudentsQuery{Session: &access.Session{Role: access.RoleAlumno, Identity: "andrea.lopez@mail.com"}})
	require.NoError(t, err)
	require.Len(t, own.Students, 1)
	assert.Equal(t, 1, own.Students[0].ID)
}

func TestGetSummary(t *testing.T) {
	h := NewGetSummaryHandler(resolver(), loadedContext(t))
	ctx := context.Background()

	dto, err := h.Handle(ctx, GetSummaryQuery{Session: &access.Session{Role: access.RoleDocente}})
	require.NoError(t, err)
	assert.True(t, dto.Loaded)
	assert.Equal(t, "b-1", dto.BatchID)
	assert.Equal(t, 78.0, dto.Metrics.GradeMean)
	assert.Equal(t, 78.0, dto.Summary.Grade)
	assert.Equal(t, analytics.TrendStable, dto.Trend)
	require.Len(t, dto.AtRisk, 1)

	_, err = h.Handle(ctx, GetSummaryQuery{Session: &access.Session{Role: access.RolePadre, Identity: "marco.diaz@mail.com"}})
	assert.ErrorIs(t, err, shared.ErrRoleNotAllowed)

	empty, err := NewGetSummaryHandler(resolver(), roster.NewContext()).
		Handle(ctx, GetSummaryQuery{Session: &access.Session{Role: access.RoleAdmin}})
	require.NoError(t, err)
	assert.False(t, empty.Loaded)
	assert.Equal(t, analytics.TrendInsufficient, empty.Trend)
	assert.Empty(t, empty.AtRisk)
}

func TestGetSession(t *testing.T) {
	h := NewGetSessionHandler(resolver())

	dto, err := h.Handle(context.Background(), GetSessionQuery{
		Session: &access.Session{Role: access.RolePadre, Identity: "p@mail.com", DisplayName: "Papá"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Padre", dto.Role)
	assert.Equal(t, map[string]string{"view_record": "own", "list_records": "own"}, dto.Permissions)

	_, err = h.Handle(context.Background(), GetSessionQuery{Session: &access.Session{Role: access.RoleUnknown}})
	assert.ErrorIs(t, err, shared.ErrUnknownRole)
}

func TestGetStudent_TextPolicy(t *testing.T) {
	h := NewGetStudentHandler(resolver(), loadedContext(t))
	h.SetTextPolicy(func(s *access.Session) bool { return s.Identity != "marco.diaz@mail.com" })

	view, err := h.Handle(context.Background(), GetStudentQuery{
		Session:   &access.Session{Role: access.RolePadre, Identity: "marco.diaz@mail.com"},
		StudentID: "2",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(view.Recommendation, "🚨 RIESGO INMINENTE (82.3%)"))
}
