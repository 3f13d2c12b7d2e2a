package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
)

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	s := Summarize([]roster.StudentRecord{
		{GradeAvg: 80, AttendanceAvg: 90, ConductAvg: 70},
		{GradeAvg: 91, AttendanceAvg: 95, ConductAvg: 85},
	})
	assert.Equal(t, Summary{Count: 2, Grade: 85.5, Attendance: 92.5, Conduct: 77.5}, s)
}

func TestTrendOf(t *testing.T) {
	rec := func(g float64) roster.StudentRecord { return roster.StudentRecord{GradeAvg: g} }

	assert.Equal(t, TrendInsufficient, TrendOf([]roster.StudentRecord{rec(99)}))
	assert.Equal(t, TrendPositive, TrendOf([]roster.StudentRecord{rec(90), rec(88)}))
	assert.Equal(t, TrendNegative, TrendOf([]roster.StudentRecord{rec(70), rec(72)}))
	assert.Equal(t, TrendStable, TrendOf([]roster.StudentRecord{rec(85), rec(75)}))
}

func TestAtRisk(t *testing.T) {
	recs := []roster.StudentRecord{
		{ID: 1, GradeAvg: 90, AttendanceAvg: 95, ConductAvg: 90},
		{ID: 2, GradeAvg: 69.9, AttendanceAvg: 95, ConductAvg: 90},
		{ID: 3, GradeAvg: 90, AttendanceAvg: 79, ConductAvg: 90},
		{ID: 4, GradeAvg: 90, AttendanceAvg: 95, ConductAvg: 74},
		{ID: 5, GradeAvg: 70, AttendanceAvg: 80, ConductAvg: 75},
	}
	var ids []int
	for _, r := range AtRisk(recs) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int{2, 3, 4}, ids)
	assert.Empty(t, AtRisk(nil))
}
