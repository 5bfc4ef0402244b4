package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InitSchema creates the measures and pipeline_runs tables if they do not exist.
func InitSchema(ctx context.Context, db *sql.DB, driver string) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}
	d := dialect{driver: driver}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// No unique constraint on (city, timestamp): re-running a date appends.
	createMeasures := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS measures (
		%s,
		city TEXT NOT NULL,
		timestamp %s NOT NULL,
		temp %s NOT NULL,
		cloudiness %s NOT NULL,
		wind %s NOT NULL,
		humidity %s NOT NULL
	);
	`, d.idColumn(), d.intType(), d.realType(), d.realType(), d.realType(), d.realType())

	createRuns := `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		run_id TEXT PRIMARY KEY,
		logical_date TEXT NOT NULL,
		run_type TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT
	);
	`

	createRunsIndex := `
	CREATE INDEX IF NOT EXISTS idx_pipeline_runs_logical_date
	ON pipeline_runs(logical_date, run_type);
	`

	statements := []string{createMeasures, createRuns, createRunsIndex}
	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}
	return nil
}
