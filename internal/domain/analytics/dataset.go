// Package analytics вычисляет метрики успеваемости по сырым строкам
// ведомости: средние, вектор отклонения от идеала, область прогресса,
// вероятность риска, рекомендации и групповую статистику.
package analytics

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DATASET SHAPE
// ══════════════════════════════════════════════════════════════════════════════

// Subjects - предметы в порядке ведомости.
var Subjects = []string{
	"Español", "Ingles", "Matematicas", "Artes", "Formacion_Civica_y_Etica",
	"Historia", "Educacion_Fisica", "Quimica", "Tecnologia",
}

// TopicsPerSubject - количество тем (оценок) на предмет.
const TopicsPerSubject = 6

// Имена колонок (в нижнем регистре).
const (
	ColName       = "nombre"
	ColAttendance = "asistencia_gral"
	ColConduct    = "conducta_gral"
	ColRisk       = "probabilidad_riesgo"
	ColIdentities = "identidades"
)

// GradeColumn возвращает имя колонки оценки, например "matematicas_cal_t3".
func GradeColumn(subject string, topic int) string {
	return fmt.Sprintf("%s_cal_t%d", strings.ToLower(subject), topic)
}

// RequiredColumns возвращает обязательные колонки в каноническом порядке.
func RequiredColumns() []string {
	cols := []string{ColName, ColAttendance, ColConduct}
	for _, s := range Subjects {
		for t := 1; t <= TopicsPerSubject; t++ {
			cols = append(cols, GradeColumn(s, t))
		}
	}
	return cols
}

// Row - одна строка ведомости: имя колонки -> значение.
// Имена колонок сравниваются без учёта регистра.
type Row map[string]any

// normalize возвращает копию строки с ключами в нижнем регистре.
func (r Row) normalize() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// missingColumns возвращает обязательные колонки, которых нет ни в одной строке.
func missingColumns(rows []Row) []string {
	present := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			present[k] = true
		}
	}
	var missing []string
	for _, col := range RequiredColumns() {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

// number разбирает числовое значение ячейки. ok=false для пустой ячейки.
func (r Row) number(col string) (value float64, ok bool, err error) {
	raw, exists := r[col]
	if !exists || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false, invalidCell(col, raw)
		}
		return f, true, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return 0, false, invalidCell(col, raw)
		}
		return f, true, nil
	default:
		return 0, false, invalidCell(col, raw)
	}
}

func (r Row) text(col string) string {
	switch v := r[col].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// identities разбирает колонку связей: массив строк или строку,
// разделённую запятыми или точками с запятой.
func (r Row) identities() []string {
	var parts []string
	switch v := r[ColIdentities].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	case []string:
		parts = v
	case string:
		parts = strings.FieldsFunc(v, func(c rune) bool { return c == ',' || c == ';' })
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func invalidCell(col string, raw any) error {
	return shared.NewDomainError("analytics", "Parse", shared.ErrInvalidInput,
		fmt.Sprintf("column %q has non-numeric value %v", col, raw))
}
