package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

var (
	batchColumns = []string{"id", "tag", "source", "created_by", "created_at", "metrics"}

	selectedRecordColumns = []string{
		"student_id", "name", "grade_avg", "attendance_avg", "conduct_avg", "risk_probability",
		"progress_area", "vector_magnitude", "recommendation", "critical_subject", "subjects", "identities",
	}

	readWriteTx = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}
	readOnlyTx  = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

func newMockRepository(t *testing.T) (*RosterRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRosterRepository(NewConnection(mock)), mock
}

func testBatch() *roster.Batch {
	return &roster.Batch{
		ID:        "3f1c2d4e-5a6b-4c7d-8e9f-0a1b2c3d4e5f",
		Tag:       "Carga_20260105_081500",
		Source:    roster.SourceAnalyze,
		CreatedBy: "director@mail.com",
		CreatedAt: time.Date(2026, 1, 5, 8, 15, 0, 0, time.UTC),
		Records: []roster.StudentRecord{
			{
				ID: 7, Name: "Andrea Lopez",
				GradeAvg: 92, AttendanceAvg: 96, ConductAvg: 95, RiskProbability: 0.12,
				ProgressArea: 88.32, VectorMagnitude: 9.43,
				Recommendation:   "💎 EXCELENCIA",
				CriticalSubject:  "Fisica",
				Subjects:         map[string]roster.SubjectDetail{"Fisica": {Grade: 90, Attendance: 95, Conduct: 94}},
				LinkedIdentities: []string{"andrea.lopez@mail.com"},
			},
			{
				ID: 3, Name: "Marco Diaz",
				GradeAvg: 64, AttendanceAvg: 70, ConductAvg: 72, RiskProbability: 0.82,
				ProgressArea: 44.8, VectorMagnitude: 54.96,
				Recommendation: "🚨 RIESGO INMINENTE",
			},
		},
		Metrics: roster.GroupMetrics{GradeMean: 78, GroupProgressArea: 140.4},
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestRosterRepository_SaveLatestClear(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()
	b := testBatch()
	id := uuid.MustParse(b.ID)
	metrics := mustJSON(t, b.Metrics)

	// SaveBatch
	mock.ExpectBeginTx(readWriteTx)
	mock.ExpectExec(insertBatchSQL).
		WithArgs(id, b.Tag, "analyze", b.CreatedBy, b.CreatedAt, 2, metrics).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(recordsTable, recordColumns).WillReturnResult(2)
	mock.ExpectExec(setCurrentSQL).WithArgs(id).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveBatch(ctx, b))

	// LatestBatch
	mock.ExpectBeginTx(readOnlyTx)
	mock.ExpectQuery(selectCurrentSQL).WillReturnRows(
		pgxmock.NewRows(batchColumns).AddRow(b.ID, b.Tag, "analyze", b.CreatedBy, b.CreatedAt, metrics),
	)
	andrea, marco := b.Records[0], b.Records[1]
	mock.ExpectQuery(selectRecordsSQL).WithArgs(b.ID).WillReturnRows(
		pgxmock.NewRows(selectedRecordColumns).
			AddRow(andrea.ID, andrea.Name, andrea.GradeAvg, andrea.AttendanceAvg, andrea.ConductAvg,
				andrea.RiskProbability, andrea.ProgressArea, andrea.VectorMagnitude, andrea.Recommendation,
				andrea.CriticalSubject, mustJSON(t, andrea.Subjects), andrea.LinkedIdentities).
			AddRow(marco.ID, marco.Name, marco.GradeAvg, marco.AttendanceAvg, marco.ConductAvg,
				marco.RiskProbability, marco.ProgressArea, marco.VectorMagnitude, marco.Recommendation,
				"", []byte("null"), []string{}),
	)
	mock.ExpectCommit()

	got, err := repo.LatestBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.Tag, got.Tag)
	assert.Equal(t, roster.SourceAnalyze, got.Source)
	assert.True(t, b.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, b.Metrics, got.Metrics)
	require.Len(t, got.Records, 2)
	assert.Equal(t, andrea, got.Records[0])
	assert.Equal(t, 3, got.Records[1].ID)
	assert.Nil(t, got.Records[1].Subjects)
	assert.Nil(t, got.Records[1].LinkedIdentities)

	// ClearCurrent, after which no batch is current
	mock.ExpectExec(setCurrentSQL).WithArgs(nil).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.ClearCurrent(ctx))

	mock.ExpectBeginTx(readOnlyTx)
	mock.ExpectQuery(selectCurrentSQL).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = repo.LatestBatch(ctx)
	assert.ErrorIs(t, err, shared.ErrBatchNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepository_SaveBatchDuplicateStudent(t *testing.T) {
	repo, mock := newMockRepository(t)
	b := testBatch()

	mock.ExpectBeginTx(readWriteTx)
	mock.ExpectExec(insertBatchSQL).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(recordsTable, recordColumns).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	err := repo.SaveBatch(context.Background(), b)
	assert.True(t, shared.IsAlreadyExists(err), err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepository_InvalidIDs(t *testing.T) {
	repo, mock := newMockRepository(t)
	ctx := context.Background()

	b := testBatch()
	b.ID = "not-a-uuid"
	assert.ErrorIs(t, repo.SaveBatch(ctx, b), shared.ErrInvalidID)

	_, err := repo.GetBatch(ctx, "42")
	assert.ErrorIs(t, err, shared.ErrBatchNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepository_GetBatchHistorical(t *testing.T) {
	repo, mock := newMockRepository(t)
	b := testBatch()
	metrics := mustJSON(t, b.Metrics)

	mock.ExpectBeginTx(readOnlyTx)
	mock.ExpectQuery(selectByIDSQL).WithArgs(uuid.MustParse(b.ID)).WillReturnRows(
		pgxmock.NewRows(batchColumns).AddRow(b.ID, b.Tag, "import", "", b.CreatedAt, metrics),
	)
	mock.ExpectQuery(selectRecordsSQL).WithArgs(b.ID).WillReturnRows(pgxmock.NewRows(selectedRecordColumns))
	mock.ExpectCommit()

	got, err := repo.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, roster.SourceImport, got.Source)
	assert.NotNil(t, got.Records)
	assert.Empty(t, got.Records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepository_DatabaseDown(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBeginTx(readOnlyTx).WillReturnError(errors.New("connection refused"))

	_, err := repo.LatestBatch(context.Background())
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.False(t, errors.Is(err, shared.ErrBatchNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
