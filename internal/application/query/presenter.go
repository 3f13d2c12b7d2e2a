// Package query contains read operations (CQRS - Queries).
package query

import (
	"math"
	"strings"

	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESENTER
// Представление записи ученика для конкретной роли.
// ══════════════════════════════════════════════════════════════════════════════

// StudentView - DTO записи ученика.
type StudentView struct {
	ID   int    `json:"id"`
	Name string `json:"nombre"`

	// ─────────────────────────────────────────────────────────────────────────
	// Показатели
	// ─────────────────────────────────────────────────────────────────────────

	Grade           float64 `json:"promedio_gral_calificacion"`
	Attendance      float64 `json:"promedio_gral_asistencia"`
	Conduct         float64 `json:"promedio_gral_conducta"`
	RiskProbability float64 `json:"probabilidad_riesgo"`

	// RiskPercent - вероятность риска в процентах с одним знаком.
	RiskPercent     float64 `json:"riesgo_porcentaje"`
	ProgressArea    float64 `json:"area_de_progreso"`
	VectorMagnitude float64 `json:"vector_magnitud"`
	AtRisk          bool    `json:"en_riesgo"`

	// ─────────────────────────────────────────────────────────────────────────
	// Рекомендации
	// ─────────────────────────────────────────────────────────────────────────

	// Recommendation - текст, адаптированный под роль читателя.
	Recommendation  string                          `json:"recomendacion_pedagogica"`
	CriticalSubject string                          `json:"materia_critica_temprana,omitempty"`
	Subjects        map[string]roster.SubjectDetail `json:"detalle_materias,omitempty"`
}

// NewStudentView строит DTO записи для роли читателя.
func NewStudentView(rec roster.StudentRecord, role access.Role) StudentView {
	return StudentView{
		ID:              rec.ID,
		Name:            rec.Name,
		Grade:           round2(rec.GradeAvg),
		Attendance:      round2(rec.AttendanceAvg),
		Conduct:         round2(rec.ConductAvg),
		RiskProbability: rec.RiskProbability,
		RiskPercent:     math.Round(rec.RiskProbability*1000) / 10,
		ProgressArea:    round2(rec.ProgressArea),
		VectorMagnitude: round2(rec.VectorMagnitude),
		AtRisk:          analytics.IsAtRisk(rec),
		Recommendation:  AdaptRecommendation(role, rec.Recommendation),
		CriticalSubject: rec.CriticalSubject,
		Subjects:        rec.Subjects,
	}
}

// TextPolicy решает, адаптировать ли рекомендации для сессии. nil - всегда.
type TextPolicy func(s *access.Session) bool

// audience возвращает роль, для которой строится текст; RoleUnknown
// означает исходный текст.
func (p TextPolicy) audience(s *access.Session) access.Role {
	if p != nil && !p(s) {
		return access.RoleUnknown
	}
	return s.Role
}

// newStudentViews строит DTO для списка записей.
func newStudentViews(recs []roster.StudentRecord, role access.Role) []StudentView {
	out := make([]StudentView, 0, len(recs))
	for _, r := range recs {
		out = append(out, NewStudentView(r, role))
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Адаптация рекомендаций
// ─────────────────────────────────────────────────────────────────────────────

var (
	parentReplacer = strings.NewReplacer(
		"RIESGO INMINENTE", "🛑 ATENCIÓN URGENTE. Su hijo/a necesita apoyo inmediato.",
		"DESVIACIÓN CRÍTICA", "El desempeño actual requiere supervisión. Enfoque en:",
		"INCONSTANTE", "El progreso es irregular. Requiere motivación para ser constante.",
		"Acciones:", "Sugerencias de Apoyo Familiar:",
		"Tutoría focalizada", "sesiones de refuerzo escolar",
	)
	studentReplacer = strings.NewReplacer(
		"RIESGO INMINENTE", "¡ALERTA! Necesitas un impulso urgente para evitar problemas en tus notas.",
		"DESVIACIÓN CRÍTICA", "Estás a tiempo de corregir el rumbo. Concéntrate en estas Áreas Clave:",
		"INCONSTANTE", "Tú puedes ser más constante. ¡Sé disciplinado!",
		"Acciones:", "Mi Plan de Foco:",
		"Tutoría focalizada", "ayuda extra",
	)
)

// studentEncouragement добавляется в конец текста для ученика.
const studentEncouragement = " ¡Tú puedes lograr un gran avance!"

// AdaptRecommendation переводит рекомендацию на язык роли. Администратор и
// преподаватель видят исходный текст.
func AdaptRecommendation(role access.Role, text string) string {
	switch role {
	case access.RolePadre:
		return parentReplacer.Replace(text)
	case access.RoleAlumno:
		return studentReplacer.Replace(text) + studentEncouragement
	default:
		return text
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
