package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
)

const (
	dateLayout = "2006-01-02"
	// Fixed-width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// RunStore records pipeline runs in the pipeline_runs table.
type RunStore struct {
	db      *sql.DB
	dialect dialect
}

// NewRunStore creates a run ledger for the given driver's dialect.
func NewRunStore(db *sql.DB, driver string) *RunStore {
	return &RunStore{db: db, dialect: dialect{driver: driver}}
}

// CreateRun inserts a new run entry.
func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	q := s.dialect.rebind(`
	INSERT INTO pipeline_runs (run_id, logical_date, run_type, state, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?);
	`)

	_, err := s.db.ExecContext(ctx, q,
		run.ID,
		run.LogicalDate.UTC().Format(dateLayout),
		string(run.Type),
		string(run.State),
		run.Error,
		formatTime(run.StartedAt),
		formatTimePtr(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRun stores the run's current state, error and finish time.
func (s *RunStore) UpdateRun(ctx context.Context, run domain.Run) error {
	q := s.dialect.rebind(`
	UPDATE pipeline_runs
	SET state = ?, error = ?, finished_at = ?
	WHERE run_id = ?;
	`)

	res, err := s.db.ExecContext(ctx, q, string(run.State), run.Error, formatTimePtr(run.FinishedAt), run.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: rows affected: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, sql.ErrNoRows)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	q := s.dialect.rebind(`
	SELECT run_id, logical_date, run_type, state, error, started_at, finished_at
	FROM pipeline_runs
	ORDER BY started_at DESC, run_id DESC
	LIMIT ?;
	`)

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: query: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: row iteration: %w", err)
	}
	return out, nil
}

// ScheduledDates returns the logical dates in [from, to] that already have a
// scheduled run, whatever its outcome. Manual runs do not count.
func (s *RunStore) ScheduledDates(ctx context.Context, from, to time.Time) (map[time.Time]bool, error) {
	q := s.dialect.rebind(`
	SELECT DISTINCT logical_date
	FROM pipeline_runs
	WHERE run_type = ? AND logical_date >= ? AND logical_date <= ?;
	`)

	rows, err := s.db.QueryContext(ctx, q,
		string(domain.RunScheduled),
		from.UTC().Format(dateLayout),
		to.UTC().Format(dateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduled dates: query: %w", err)
	}
	defer rows.Close()

	out := make(map[time.Time]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scheduled dates: scan row: %w", err)
		}
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("scheduled dates: parse %q: %w", raw, err)
		}
		out[d] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduled dates: row iteration: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run                     domain.Run
		logicalDate, typ, state string
		startedAt               string
		finishedAt              sql.NullString
	)
	if err := row.Scan(&run.ID, &logicalDate, &typ, &state, &run.Error, &startedAt, &finishedAt); err != nil {
		return domain.Run{}, fmt.Errorf("scan run: %w", err)
	}

	d, err := time.Parse(dateLayout, logicalDate)
	if err != nil {
		return domain.Run{}, fmt.Errorf("parse logical_date %q: %w", logicalDate, err)
	}
	started, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return domain.Run{}, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	run.LogicalDate = d
	run.Type = domain.RunType(typ)
	run.State = domain.RunState(state)
	run.StartedAt = started

	if finishedAt.Valid {
		f, err := time.Parse(timeLayout, finishedAt.String)
		if err != nil {
			return domain.Run{}, fmt.Errorf("parse finished_at %q: %w", finishedAt.String, err)
		}
		run.FinishedAt = &f
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// Ping checks that the ledger's database is reachable.
func (s *RunStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("ping run store: db is nil")
	}
	return s.db.PingContext(ctx)
}
