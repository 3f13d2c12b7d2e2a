package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER REPOSITORY
// Implements roster.Repository on analysis_batches / student_records / roster_state.
// ══════════════════════════════════════════════════════════════════════════════

// RosterRepository persists analysis batches.
type RosterRepository struct {
	conn *Connection
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(conn *Connection) *RosterRepository {
	return &RosterRepository{conn: conn}
}

var _ roster.Repository = (*RosterRepository)(nil)

var (
	recordsTable = pgx.Identifier{"student_records"}

	recordColumns = []string{
		"batch_id", "student_id", "position", "name",
		"grade_avg", "attendance_avg", "conduct_avg", "risk_probability",
		"progress_area", "vector_magnitude", "recommendation", "critical_subject",
		"subjects", "identities",
	}
)

const (
	insertBatchSQL = `
		INSERT INTO analysis_batches (id, tag, source, created_by, created_at, record_count, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	setCurrentSQL = `
		INSERT INTO roster_state (singleton, batch_id, updated_at) VALUES (TRUE, $1, NOW())
		ON CONFLICT (singleton) DO UPDATE SET batch_id = EXCLUDED.batch_id, updated_at = NOW()`

	selectBatchColumns = `SELECT id, tag, source, created_by, created_at, metrics FROM analysis_batches`

	selectCurrentSQL = selectBatchColumns + `
		WHERE id = (SELECT batch_id FROM roster_state WHERE singleton)`

	selectByIDSQL = selectBatchColumns + ` WHERE id = $1`

	selectRecordsSQL = `
		SELECT student_id, name, grade_avg, attendance_avg, conduct_avg, risk_probability,
		       progress_area, vector_magnitude, recommendation, critical_subject, subjects, identities
		FROM student_records
		WHERE batch_id = $1
		ORDER BY position`
)

// SaveBatch stores the batch with all its records and makes it current,
// in a single transaction.
func (r *RosterRepository) SaveBatch(ctx context.Context, b *roster.Batch) error {
	id, err := uuid.Parse(b.ID)
	if err != nil {
		return shared.WrapError("roster", "SaveBatch", shared.ErrInvalidID, "batch id must be a UUID", err)
	}

	metrics, err := json.Marshal(b.Metrics)
	if err != nil {
		return fmt.Errorf("roster_repo: encode metrics: %w", err)
	}

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertBatchSQL,
			id, b.Tag, string(b.Source), b.CreatedBy, createdAt, len(b.Records), metrics,
		); err != nil {
			if IsUniqueViolation(err) {
				return shared.WrapError("roster", "SaveBatch", shared.ErrAlreadyExists, "batch already stored", err)
			}
			return fmt.Errorf("roster_repo: insert batch: %w", err)
		}

		rows, err := recordRows(id, b.Records)
		if err != nil {
			return err
		}
		if _, err := tx.CopyFrom(ctx, recordsTable, recordColumns, pgx.CopyFromRows(rows)); err != nil {
			if IsUniqueViolation(err) {
				return shared.WrapError("roster", "SaveBatch", shared.ErrAlreadyExists, "duplicate student id", err)
			}
			return fmt.Errorf("roster_repo: copy records: %w", err)
		}

		if _, err := tx.Exec(ctx, setCurrentSQL, id); err != nil {
			return fmt.Errorf("roster_repo: set current: %w", err)
		}
		return nil
	})
}

// recordRows lays records out in recordColumns order.
func recordRows(batchID uuid.UUID, records []roster.StudentRecord) ([][]any, error) {
	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		subjects, err := json.Marshal(rec.Subjects)
		if err != nil {
			return nil, fmt.Errorf("roster_repo: encode subjects of student %d: %w", rec.ID, err)
		}
		identities := rec.LinkedIdentities
		if identities == nil {
			identities = []string{}
		}
		rows = append(rows, []any{
			batchID, rec.ID, i, rec.Name,
			rec.GradeAvg, rec.AttendanceAvg, rec.ConductAvg, rec.RiskProbability,
			rec.ProgressArea, rec.VectorMagnitude, rec.Recommendation, rec.CriticalSubject,
			subjects, identities,
		})
	}
	return rows, nil
}

// LatestBatch returns the batch roster_state points to.
func (r *RosterRepository) LatestBatch(ctx context.Context) (*roster.Batch, error) {
	var out *roster.Batch
	err := r.conn.WithTx(ctx, ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		b, err := scanBatch(tx.QueryRow(ctx, selectCurrentSQL))
		if err != nil {
			return err
		}
		if b.Records, err = loadRecords(ctx, tx, b.ID); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, mapNoRows("LatestBatch", err)
	}
	return out, nil
}

// GetBatch returns a stored batch by id, current or historical.
func (r *RosterRepository) GetBatch(ctx context.Context, id string) (*roster.Batch, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, shared.ErrBatchNotFound
	}

	var out *roster.Batch
	err = r.conn.WithTx(ctx, ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		b, err := scanBatch(tx.QueryRow(ctx, selectByIDSQL, uid))
		if err != nil {
			return err
		}
		if b.Records, err = loadRecords(ctx, tx, b.ID); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, mapNoRows("GetBatch", err)
	}
	return out, nil
}

// ClearCurrent unsets the current batch. Stored batches are kept.
func (r *RosterRepository) ClearCurrent(ctx context.Context) error {
	if _, err := r.conn.Exec(ctx, setCurrentSQL, nil); err != nil {
		return fmt.Errorf("roster_repo: clear current: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanBatch(row pgx.Row) (*roster.Batch, error) {
	var (
		b       roster.Batch
		id      uuid.UUID
		source  string
		metrics []byte
	)
	if err := row.Scan(&id, &b.Tag, &source, &b.CreatedBy, &b.CreatedAt, &metrics); err != nil {
		return nil, err
	}
	b.ID = id.String()
	b.Source = roster.Source(source)
	b.CreatedAt = b.CreatedAt.UTC()
	if err := json.Unmarshal(metrics, &b.Metrics); err != nil {
		return nil, fmt.Errorf("roster_repo: decode metrics of batch %s: %w", b.ID, err)
	}
	return &b, nil
}

func loadRecords(ctx context.Context, q Querier, batchID string) ([]roster.StudentRecord, error) {
	rows, err := q.Query(ctx, selectRecordsSQL, batchID)
	if err != nil {
		return nil, fmt.Errorf("roster_repo: query records: %w", err)
	}
	defer rows.Close()

	records := make([]roster.StudentRecord, 0)
	for rows.Next() {
		var (
			rec      roster.StudentRecord
			subjects []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.GradeAvg, &rec.AttendanceAvg, &rec.ConductAvg, &rec.RiskProbability,
			&rec.ProgressArea, &rec.VectorMagnitude, &rec.Recommendation, &rec.CriticalSubject,
			&subjects, &rec.LinkedIdentities,
		); err != nil {
			return nil, fmt.Errorf("roster_repo: scan record: %w", err)
		}
		if err := json.Unmarshal(subjects, &rec.Subjects); err != nil {
			return nil, fmt.Errorf("roster_repo: decode subjects of student %d: %w", rec.ID, err)
		}
		if len(rec.LinkedIdentities) == 0 {
			rec.LinkedIdentities = nil
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func mapNoRows(op string, err error) error {
	if IsNoRows(err) {
		return shared.ErrBatchNotFound
	}
	return shared.WrapError("roster", op, shared.ErrServiceUnavailable, "database error", err)
}
