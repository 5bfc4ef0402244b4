package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
)

// MeasureStore appends and lists rows of the measures table.
type MeasureStore struct {
	db      *sql.DB
	dialect dialect
}

// NewMeasureStore creates a store for the given driver's dialect.
func NewMeasureStore(db *sql.DB, driver string) *MeasureStore {
	return &MeasureStore{db: db, dialect: dialect{driver: driver}}
}

// InsertMeasure appends one row and returns it with its generated ID.
// Values are bound as parameters, never interpolated.
func (s *MeasureStore) InsertMeasure(ctx context.Context, rec domain.MeasureRecord) (domain.MeasureRecord, error) {
	if s.db == nil {
		return domain.MeasureRecord{}, errors.New("insert measure: db is nil")
	}

	q := s.dialect.rebind(`
	INSERT INTO measures (city, timestamp, temp, cloudiness, wind, humidity)
	VALUES (?, ?, ?, ?, ?, ?)
	RETURNING id;
	`)

	err := s.db.QueryRowContext(ctx, q,
		rec.City, rec.Timestamp, rec.Temp, rec.Cloudiness, rec.Wind, rec.Humidity,
	).Scan(&rec.ID)
	if err != nil {
		return domain.MeasureRecord{}, fmt.Errorf("insert measure city=%q timestamp=%d: %w", rec.City, rec.Timestamp, err)
	}
	return rec, nil
}

// ListMeasures returns the most recently inserted rows, newest first.
func (s *MeasureStore) ListMeasures(ctx context.Context, limit int) ([]domain.MeasureRecord, error) {
	q := s.dialect.rebind(`
	SELECT id, city, timestamp, temp, cloudiness, wind, humidity
	FROM measures
	ORDER BY id DESC
	LIMIT ?;
	`)

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list measures: query: %w", err)
	}
	defer rows.Close()

	out := make([]domain.MeasureRecord, 0, limit)
	for rows.Next() {
		var m domain.MeasureRecord
		if err := rows.Scan(&m.ID, &m.City, &m.Timestamp, &m.Temp, &m.Cloudiness, &m.Wind, &m.Humidity); err != nil {
			return nil, fmt.Errorf("list measures: scan row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list measures: row iteration: %w", err)
	}
	return out, nil
}

// CountMeasures returns the number of rows for a city and data point timestamp.
func (s *MeasureStore) CountMeasures(ctx context.Context, city string, timestamp int64) (int, error) {
	q := s.dialect.rebind(`SELECT COUNT(*) FROM measures WHERE city = ? AND timestamp = ?;`)

	var n int
	if err := s.db.QueryRowContext(ctx, q, city, timestamp).Scan(&n); err != nil {
		return 0, fmt.Errorf("count measures: %w", err)
	}
	return n, nil
}
