package analytics

import (
	"fmt"
	"math"
	"strings"

	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RISK MODEL
// ══════════════════════════════════════════════════════════════════════════════

// idealScore - идеальное значение каждой оси (оценка, посещаемость, поведение).
const idealScore = 100.0

// groupAreaFactor - коэффициент групповой области прогресса.
const groupAreaFactor = 0.9

// RiskModel - логистическая модель вероятности риска по величине вектора
// отклонения: p = 1 / (1 + exp(-(v - Midpoint) / Scale)).
type RiskModel struct {
	Midpoint float64
	Scale    float64
}

// DefaultRiskModel возвращает модель с серединой 35 и масштабом 8.
func DefaultRiskModel() RiskModel {
	return RiskModel{Midpoint: 35, Scale: 8}
}

// Probability вычисляет вероятность риска в [0, 1].
func (m RiskModel) Probability(vector float64) float64 {
	scale := m.Scale
	if scale <= 0 {
		scale = DefaultRiskModel().Scale
	}
	return clamp01(1 / (1 + math.Exp(-(vector-m.Midpoint)/scale)))
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZER
// ══════════════════════════════════════════════════════════════════════════════

// Result - результат анализа ведомости.
type Result struct {
	Records []roster.StudentRecord
	Metrics roster.GroupMetrics
}

// Analyzer превращает сырые строки ведомости в записи учеников.
// Не имеет состояния и безопасен для конкурентного использования.
type Analyzer struct {
	risk         RiskModel
	suppliedRisk bool
}

// Option настраивает Analyzer.
type Option func(*Analyzer)

// WithSuppliedRisk включает или выключает приём готовой вероятности риска
// из колонки probabilidad_riesgo. По умолчанию включено.
func WithSuppliedRisk(enabled bool) Option {
	return func(a *Analyzer) { a.suppliedRisk = enabled }
}

// NewAnalyzer создаёт анализатор с заданной моделью риска.
func NewAnalyzer(risk RiskModel, opts ...Option) *Analyzer {
	a := &Analyzer{risk: risk, suppliedRisk: true}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze вычисляет записи и групповые метрики. ID присваиваются по порядку
// строк, начиная с 1.
func (a *Analyzer) Analyze(rows []Row) (*Result, error) {
	if len(rows) == 0 {
		return nil, shared.ErrEmptyDataset
	}

	normalized := make([]Row, len(rows))
	for i, r := range rows {
		normalized[i] = r.normalize()
	}

	if missing := missingColumns(normalized); len(missing) > 0 {
		shown := missing
		if len(shown) > 3 {
			shown = shown[:3]
		}
		return nil, shared.WrapError("analytics", "Analyze", shared.ErrInvalidInput,
			fmt.Sprintf("missing columns: %s", strings.Join(shown, ", ")), shared.ErrMissingColumns)
	}

	records := make([]roster.StudentRecord, 0, len(normalized))
	for i, row := range normalized {
		rec, err := a.analyzeRow(i+1, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return &Result{Records: records, Metrics: GroupMetricsOf(records)}, nil
}

// analyzeRow вычисляет одну запись.
func (a *Analyzer) analyzeRow(id int, row Row) (roster.StudentRecord, error) {
	name := row.text(ColName)
	if name == "" {
		return roster.StudentRecord{}, shared.NewDomainError("analytics", "Analyze", shared.ErrEmptyValue,
			fmt.Sprintf("row %d has an empty name", id))
	}

	attendance, err := requiredNumber(row, ColAttendance, id)
	if err != nil {
		return roster.StudentRecord{}, err
	}
	conduct, err := requiredNumber(row, ColConduct, id)
	if err != nil {
		return roster.StudentRecord{}, err
	}

	var (
		allGrades    []float64
		firstGrades  = make(map[string]float64, len(Subjects))
		criticalName string
		criticalMean = math.Inf(1)
	)
	for _, subject := range Subjects {
		var grades []float64
		var first float64
		for t := 1; t <= TopicsPerSubject; t++ {
			v, ok, err := row.number(GradeColumn(subject, t))
			if err != nil {
				return roster.StudentRecord{}, err
			}
			if !ok {
				continue
			}
			if t == 1 {
				first = v
			}
			grades = append(grades, v)
		}
		allGrades = append(allGrades, grades...)
		firstGrades[subject] = first

		if len(grades) > 0 {
			if m := mean(grades); m < criticalMean {
				criticalMean = m
				criticalName = subject
			}
		}
	}
	if len(allGrades) == 0 {
		return roster.StudentRecord{}, shared.NewDomainError("analytics", "Analyze", shared.ErrEmptyValue,
			fmt.Sprintf("row %d has no grades", id))
	}

	grade := mean(allGrades)
	vector := VectorMagnitude(grade, attendance, conduct)
	area := ProgressArea(grade, attendance)

	var (
		risk     float64
		supplied bool
	)
	if a.suppliedRisk {
		if risk, supplied, err = row.number(ColRisk); err != nil {
			return roster.StudentRecord{}, err
		}
	}
	if supplied {
		risk = clamp01(risk)
	} else {
		risk = a.risk.Probability(vector)
	}

	// Детализация по предметам: первая тема и общие посещаемость и поведение.
	details := make(map[string]roster.SubjectDetail, len(firstGrades))
	for s, g := range firstGrades {
		details[s] = roster.SubjectDetail{Grade: g, Attendance: attendance, Conduct: conduct}
	}

	return roster.StudentRecord{
		ID:               id,
		Name:             name,
		GradeAvg:         grade,
		AttendanceAvg:    attendance,
		ConductAvg:       conduct,
		RiskProbability:  risk,
		ProgressArea:     area,
		VectorMagnitude:  vector,
		Recommendation:   Recommend(grade, risk, vector, area),
		CriticalSubject:  criticalName,
		Subjects:         details,
		LinkedIdentities: row.identities(),
	}, nil
}

func requiredNumber(row Row, col string, id int) (float64, error) {
	v, ok, err := row.number(col)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, shared.NewDomainError("analytics", "Analyze", shared.ErrEmptyValue,
			fmt.Sprintf("row %d has no value for %q", id, col))
	}
	return v, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Формулы
// ─────────────────────────────────────────────────────────────────────────────

// VectorMagnitude - евклидово расстояние от (100, 100, 100) до точки ученика.
func VectorMagnitude(grade, attendance, conduct float64) float64 {
	dg, da, dc := idealScore-grade, idealScore-attendance, idealScore-conduct
	return math.Sqrt(dg*dg + da*da + dc*dc)
}

// ProgressArea - оценка, взвешенная посещаемостью.
func ProgressArea(grade, attendance float64) float64 {
	return grade * attendance / 100
}

// GroupMetricsOf вычисляет групповые метрики по готовым записям.
// Все показатели округляются до двух знаков.
func GroupMetricsOf(records []roster.StudentRecord) roster.GroupMetrics {
	n := len(records)
	if n == 0 {
		return roster.GroupMetrics{}
	}
	grades := make([]float64, n)
	attendance := make([]float64, n)
	conduct := make([]float64, n)
	for i, r := range records {
		grades[i] = r.GradeAvg
		attendance[i] = r.AttendanceAvg
		conduct[i] = r.ConductAvg
	}

	m := mean(grades)
	return roster.GroupMetrics{
		GradeMean:         round2(m),
		GroupProgressArea: round2(m * float64(n) * groupAreaFactor),
		Correlations: roster.Correlations{
			AttendanceVsGrade: round2(pearson(attendance, grades)),
			ConductVsGrade:    round2(pearson(conduct, grades)),
		},
		Dispersion: roster.Dispersion{
			GradeStd:      round2(sampleStd(grades)),
			AttendanceStd: round2(sampleStd(attendance)),
			ConductStd:    round2(sampleStd(conduct)),
		},
	}
}
