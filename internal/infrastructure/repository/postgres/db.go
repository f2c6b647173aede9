package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2026101801

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the scan_jobs and tasks tables. The CHECK constraints
// mirror the job lifecycle so a buggy writer cannot persist a job that is
// both completed and failed.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS scan_jobs (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL CHECK (file_size_bytes > 0),
	mime_type TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('processing', 'completed', 'failed')),
	submitted_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	extracted_text TEXT,
	confidence DOUBLE PRECISION CHECK (confidence >= 0 AND confidence <= 100),
	document_type TEXT,
	failure_kind TEXT CHECK (failure_kind IN ('UnreadableInput', 'Timeout', 'CapacityExceeded', 'Unknown')),
	failure_message TEXT,
	resubmitted_from TEXT,
	CONSTRAINT scan_jobs_resolution CHECK (
		(status = 'processing' AND completed_at IS NULL AND confidence IS NULL AND failure_kind IS NULL)
		OR (status = 'completed' AND completed_at IS NOT NULL AND confidence IS NOT NULL AND failure_kind IS NULL)
		OR (status = 'failed' AND completed_at IS NOT NULL AND confidence IS NULL AND failure_kind IS NOT NULL)
	)
);

CREATE INDEX IF NOT EXISTS idx_scan_jobs_owner_submitted ON scan_jobs(owner_id, submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_scan_jobs_processing ON scan_jobs(submitted_at) WHERE status = 'processing';

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	priority TEXT NOT NULL CHECK (priority IN ('high', 'medium', 'low')),
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	source TEXT NOT NULL CHECK (source IN ('manual', 'ocr', 'generated')),
	origin_scan_job_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ,
	CONSTRAINT tasks_provenance CHECK ((source = 'ocr') = (origin_scan_job_id IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_updated ON tasks(user_id, updated_at DESC) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_tasks_origin ON tasks(origin_scan_job_id) WHERE origin_scan_job_id IS NOT NULL;
`
