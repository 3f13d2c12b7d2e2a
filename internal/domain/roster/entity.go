// Package roster содержит доменную модель учебного состава: записи учеников
// с агрегированными метриками, неизменяемый снимок состава и групповые метрики.
package roster

import (
	"fmt"
	"strings"
	"time"

	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT RECORD
// ══════════════════════════════════════════════════════════════════════════════

// SubjectDetail - показатели ученика по одному предмету.
type SubjectDetail struct {
	Grade      float64 `json:"calificacion"`
	Attendance float64 `json:"asistencia"`
	Conduct    float64 `json:"conducta"`
}

// StudentRecord - запись ученика. После загрузки в состав не изменяется.
type StudentRecord struct {
	// ID уникален в пределах одного состава.
	ID int `json:"id"`

	// Name - отображаемое имя ученика.
	Name string `json:"nombre"`

	// ─────────────────────────────────────────────────────────────────────────
	// Агрегированные метрики
	// ─────────────────────────────────────────────────────────────────────────

	GradeAvg      float64 `json:"promedio_gral_calificacion"`
	AttendanceAvg float64 `json:"promedio_gral_asistencia"`
	ConductAvg    float64 `json:"promedio_gral_conducta"`

	// RiskProbability - вероятность риска в диапазоне [0, 1].
	RiskProbability float64 `json:"probabilidad_riesgo"`

	// ProgressArea = GradeAvg * AttendanceAvg / 100.
	ProgressArea float64 `json:"area_de_progreso"`

	// VectorMagnitude - расстояние до идеала (100, 100, 100).
	VectorMagnitude float64 `json:"vector_magnitud"`

	// Recommendation - педагогическая рекомендация (свободный текст).
	Recommendation string `json:"recomendacion_pedagogica"`

	// CriticalSubject - предмет с наименьшей средней оценкой.
	CriticalSubject string `json:"materia_critica_temprana,omitempty"`

	// Subjects - детализация по предметам.
	Subjects map[string]SubjectDetail `json:"detalle_materias,omitempty"`

	// LinkedIdentities - идентификаторы (email) ученика и его родителей,
	// которым разрешён доступ к записи. Пустой список означает, что связь
	// не задана явно.
	LinkedIdentities []string `json:"identidades,omitempty"`
}

// Validate проверяет инварианты записи.
func (r StudentRecord) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return shared.NewDomainError("roster", "Validate", shared.ErrEmptyValue,
			fmt.Sprintf("student %d has an empty name", r.ID))
	}
	if r.RiskProbability < 0 || r.RiskProbability > 1 {
		return shared.NewDomainError("roster", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("student %d risk probability %.4f outside [0,1]", r.ID, r.RiskProbability))
	}
	return nil
}

// HasLinks возвращает true, если для записи задано явное сопоставление личностей.
func (r StudentRecord) HasLinks() bool {
	return len(r.LinkedIdentities) > 0
}

// clone возвращает глубокую копию, чтобы снимок состава нельзя было изменить снаружи.
func (r StudentRecord) clone() StudentRecord {
	c := r
	if r.Subjects != nil {
		c.Subjects = make(map[string]SubjectDetail, len(r.Subjects))
		for k, v := range r.Subjects {
			c.Subjects[k] = v
		}
	}
	if r.LinkedIdentities != nil {
		c.LinkedIdentities = append([]string(nil), r.LinkedIdentities...)
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Correlations - корреляции Пирсона между показателями группы.
type Correlations struct {
	AttendanceVsGrade float64 `json:"asistencia_vs_calificacion"`
	ConductVsGrade    float64 `json:"conducta_vs_calificacion"`
}

// Dispersion - выборочные стандартные отклонения показателей группы.
type Dispersion struct {
	GradeStd      float64 `json:"std_promedio"`
	AttendanceStd float64 `json:"std_asistencia"`
	ConductStd    float64 `json:"std_conducta"`
}

// GroupMetrics - метрики всей группы.
type GroupMetrics struct {
	GradeMean         float64      `json:"promedio_general"`
	GroupProgressArea float64      `json:"area_de_progreso_grupo"`
	Correlations      Correlations `json:"correlaciones"`
	Dispersion        Dispersion   `json:"estadistica_grupal"`
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH
// ══════════════════════════════════════════════════════════════════════════════

// Source - откуда пришёл пакет данных.
type Source string

const (
	// SourceAnalyze - сырые строки, прошедшие анализ на сервере.
	SourceAnalyze Source = "analyze"
	// SourceImport - готовые записи от внешнего сервиса.
	SourceImport Source = "import"
)

// Batch - одна загрузка состава: записи, групповые метрики и метаданные.
type Batch struct {
	ID        string          `json:"id"`
	Tag       string          `json:"tag"`
	Source    Source          `json:"source"`
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Records   []StudentRecord `json:"records"`
	Metrics   GroupMetrics    `json:"metrics"`
}

// BatchTag формирует метку загрузки вида Carga_YYYYmmdd_HHMMSS.
func BatchTag(t time.Time) string {
	return "Carga_" + t.Format("20060102_150405")
}

// Roster строит неизменяемый состав из записей пакета.
func (b *Batch) Roster() (*Roster, error) {
	if b == nil {
		return Empty(), nil
	}
	return New(b.Records)
}
