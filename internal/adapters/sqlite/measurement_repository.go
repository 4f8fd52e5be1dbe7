package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// MeasurementRepository implements domain.MeasurementRepository with SQLite.
// Timestamps are stored as unix nanoseconds; a missing SQM is NULL.
type MeasurementRepository struct {
	db *sql.DB
}

// NewMeasurementRepository creates a SQLite-backed repository
func NewMeasurementRepository(dbPath string) (*MeasurementRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sky_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		lux REAL NOT NULL,
		sqm REAL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sky_readings_timestamp ON sky_readings(timestamp);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MeasurementRepository{db: db}, nil
}

// SaveMeasurement stores a measurement in SQLite
func (r *MeasurementRepository) SaveMeasurement(ctx context.Context, m *domain.Measurement) error {
	query := `INSERT INTO sky_readings (lux, sqm, timestamp) VALUES (?, ?, ?)`

	sqm := sql.NullFloat64{Float64: m.SQM, Valid: m.HasSQM()}
	result, err := r.db.ExecContext(ctx, query, m.Lux, sqm, m.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert id: %w", err)
	}

	m.ID = id
	return nil
}

// GetMeasurement retrieves a measurement by ID
func (r *MeasurementRepository) GetMeasurement(ctx context.Context, id int64) (*domain.Measurement, error) {
	query := `SELECT id, lux, sqm, timestamp FROM sky_readings WHERE id = ?`

	m, err := scanMeasurement(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrReadingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query measurement: %w", err)
	}
	return m, nil
}

// GetMeasurementsInRange returns measurements in [start, end), oldest first
func (r *MeasurementRepository) GetMeasurementsInRange(ctx context.Context, start, end time.Time) ([]*domain.Measurement, error) {
	query := `
		SELECT id, lux, sqm, timestamp
		FROM sky_readings
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var measurements []*domain.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		measurements = append(measurements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate measurements: %w", err)
	}

	return measurements, nil
}

// GetLatestMeasurement returns the most recent measurement
func (r *MeasurementRepository) GetLatestMeasurement(ctx context.Context) (*domain.Measurement, error) {
	query := `
		SELECT id, lux, sqm, timestamp
		FROM sky_readings
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	m, err := scanMeasurement(r.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, domain.ErrReadingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest measurement: %w", err)
	}
	return m, nil
}

// DeleteOlderThan removes measurements older than age
func (r *MeasurementRepository) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age)
	query := `DELETE FROM sky_readings WHERE timestamp < ?`

	if _, err := r.db.ExecContext(ctx, query, cutoff.UnixNano()); err != nil {
		return fmt.Errorf("failed to delete old measurements: %w", err)
	}

	return nil
}

// Close closes the database connection
func (r *MeasurementRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(s scanner) (*domain.Measurement, error) {
	var (
		m   domain.Measurement
		sqm sql.NullFloat64
		ts  int64
	)

	if err := s.Scan(&m.ID, &m.Lux, &sqm, &ts); err != nil {
		return nil, err
	}

	m.SQM = math.NaN()
	if sqm.Valid {
		m.SQM = sqm.Float64
	}
	m.Timestamp = time.Unix(0, ts)

	return &m, nil
}
