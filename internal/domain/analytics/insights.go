package analytics

import "github.com/analizadordatos/smart-analytics/internal/domain/roster"

// Summary - средние показатели по набору записей.
type Summary struct {
	Count      int     `json:"total"`
	Grade      float64 `json:"promedio"`
	Attendance float64 `json:"asistencia"`
	Conduct    float64 `json:"conducta"`
}

// Summarize считает средние; для пустого набора все значения нулевые.
func Summarize(records []roster.StudentRecord) Summary {
	if len(records) == 0 {
		return Summary{}
	}
	var g, a, c float64
	for _, r := range records {
		g += r.GradeAvg
		a += r.AttendanceAvg
		c += r.ConductAvg
	}
	n := float64(len(records))
	return Summary{
		Count:      len(records),
		Grade:      round2(g / n),
		Attendance: round2(a / n),
		Conduct:    round2(c / n),
	}
}

// Trend - текстовая оценка тенденции группы.
type Trend string

const (
	TrendInsufficient Trend = "No hay suficientes datos para tendencia"
	TrendPositive     Trend = "📈 Tendencia positiva"
	TrendNegative     Trend = "📉 Tendencia negativa"
	TrendStable       Trend = "➡️ Tendencia estable"
)

// TrendOf оценивает тенденцию по средней оценке группы.
func TrendOf(records []roster.StudentRecord) Trend {
	if len(records) < 2 {
		return TrendInsufficient
	}
	s := Summarize(records)
	switch {
	case s.Grade > 85:
		return TrendPositive
	case s.Grade < 75:
		return TrendNegative
	default:
		return TrendStable
	}
}

// Пороги группы риска.
const (
	atRiskGradeBelow      = 70.0
	atRiskAttendanceBelow = 80.0
	atRiskConductBelow    = 75.0
)

// IsAtRisk - ученик в группе риска по любому из трёх показателей.
func IsAtRisk(r roster.StudentRecord) bool {
	return r.GradeAvg < atRiskGradeBelow ||
		r.AttendanceAvg < atRiskAttendanceBelow ||
		r.ConductAvg < atRiskConductBelow
}

// AtRisk возвращает учеников группы риска в исходном порядке.
func AtRisk(records []roster.StudentRecord) []roster.StudentRecord {
	out := make([]roster.StudentRecord, 0)
	for _, r := range records {
		if IsAtRisk(r) {
			out = append(out, r)
		}
	}
	return out
}
