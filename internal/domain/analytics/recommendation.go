package analytics

import "fmt"

// Пороги правил рекомендаций.
const (
	riskAlertThreshold   = 0.70
	criticalVectorMin    = 30.0
	criticalGradeMax     = 75.0
	inconsistentGradeMin = 80.0
	inconsistentAreaMax  = 75.0
	excellenceGradeMin   = 90.0
	excellenceVectorMax  = 10.0
)

// Префиксы рекомендаций. Используются и для ролевой адаптации текста.
const (
	PrefixImminentRisk    = "🚨 RIESGO INMINENTE"
	PrefixCriticalDrift   = "⚠️ DESVIACIÓN CRÍTICA"
	PrefixInconsistent    = "✨ RENDIMIENTO INCONSTANTE"
	PrefixExcellence      = "💎 EXCELENCIA"
	PrefixRoutineFollowUp = "✅ SEGUIMIENTO RUTINARIO"
)

// Recommend выбирает рекомендацию по первому сработавшему правилу.
func Recommend(grade, risk, vector, area float64) string {
	switch {
	case risk > riskAlertThreshold:
		return fmt.Sprintf("%s (%.1f%%). Acciones: Plan de Intervención Urgente, Contacto familiar, "+
			"Tutoría focalizada en materias de bajo rendimiento.", PrefixImminentRisk, risk*100)
	case vector > criticalVectorMin && grade < criticalGradeMax:
		return PrefixCriticalDrift + ". El alumno está lejos del estándar ideal. Acciones: Identificar la " +
			"debilidad principal (Asistencia/Conducta) y reforzar de manera prioritaria."
	case grade >= inconsistentGradeMin && area < inconsistentAreaMax:
		return PrefixInconsistent + ". Buen resultado, pero posible inestabilidad. Acciones: Implementar " +
			"seguimiento diario de tareas y enfocar en la consistencia."
	case grade > excellenceGradeMin && vector < excellenceVectorMax:
		return PrefixExcellence + ". Rendimiento y consistencia ejemplares. Acciones: Asignar proyectos de " +
			"enriquecimiento, considerar tutoría para compañeros con bajo rendimiento."
	default:
		return PrefixRoutineFollowUp + ". Desempeño aceptable. Acciones: Refuerzo en áreas específicas con " +
			"calificación más baja y monitoreo semanal."
	}
}
