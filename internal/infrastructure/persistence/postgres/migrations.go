package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: ANALYSIS BATCHES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- One row per roster upload (sheet analysis or service import)
CREATE TABLE IF NOT EXISTS analysis_batches (
    id UUID PRIMARY KEY,
    tag VARCHAR(64) NOT NULL,
    source VARCHAR(16) NOT NULL,
    created_by VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    record_count INTEGER NOT NULL,
    metrics JSONB NOT NULL DEFAULT '{}'::jsonb,

    CONSTRAINT valid_source CHECK (source IN ('analyze', 'import')),
    CONSTRAINT valid_record_count CHECK (record_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_analysis_batches_created_at ON analysis_batches(created_at DESC);

-- Per-student results of a batch, in roster order
CREATE TABLE IF NOT EXISTS student_records (
    batch_id UUID NOT NULL REFERENCES analysis_batches(id) ON DELETE CASCADE,
    student_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    grade_avg DOUBLE PRECISION NOT NULL,
    attendance_avg DOUBLE PRECISION NOT NULL,
    conduct_avg DOUBLE PRECISION NOT NULL,
    risk_probability DOUBLE PRECISION NOT NULL,
    progress_area DOUBLE PRECISION NOT NULL,
    vector_magnitude DOUBLE PRECISION NOT NULL,
    recommendation TEXT NOT NULL,
    critical_subject TEXT NOT NULL DEFAULT '',
    subjects JSONB NOT NULL DEFAULT '{}'::jsonb,
    identities TEXT[] NOT NULL DEFAULT '{}',

    PRIMARY KEY (batch_id, student_id),
    CONSTRAINT valid_name CHECK (length(trim(name)) > 0),
    CONSTRAINT valid_risk CHECK (risk_probability >= 0 AND risk_probability <= 1)
);

CREATE INDEX IF NOT EXISTS idx_student_records_position ON student_records(batch_id, position);
CREATE INDEX IF NOT EXISTS idx_student_records_identities ON student_records USING GIN (identities);
`

const migration001Down = `
DROP TABLE IF EXISTS student_records;
DROP TABLE IF EXISTS analysis_batches;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CURRENT ROSTER POINTER
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Single-row table naming the batch that is currently served.
-- NULL batch_id means the roster was cleared.
CREATE TABLE IF NOT EXISTS roster_state (
    singleton BOOLEAN PRIMARY KEY DEFAULT TRUE,
    batch_id UUID REFERENCES analysis_batches(id) ON DELETE SET NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT single_row CHECK (singleton)
);

INSERT INTO roster_state (singleton, batch_id)
SELECT TRUE, (SELECT id FROM analysis_batches ORDER BY created_at DESC, id LIMIT 1)
ON CONFLICT (singleton) DO NOTHING;
`

const migration002Down = `
DROP TABLE IF EXISTS roster_state;
`

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_analysis_batches",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_roster_state",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// appliedVersions returns applied migration versions with their timestamps.
func (m *Migrator) appliedVersions(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations and returns how many were applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range pending(m.migrations, applied) {
		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}

	return count, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	lastVersion := 0
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil // Nothing to rollback
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), lastVersion)
		return err
	})
}

// pending returns migrations not yet applied, in version order.
func pending(all []Migration, applied map[int]time.Time) []Migration {
	out := make([]Migration, 0, len(all))
	for _, mig := range all {
		if _, ok := applied[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out
}
