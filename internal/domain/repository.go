package domain

import (
	"context"
	"time"
)

// MeasurementRepository defines operations for storing/retrieving measurements
// This is a PORT - adapters (SQLite, Memory) implement it
type MeasurementRepository interface {
	// SaveMeasurement persists a measurement and assigns its ID
	SaveMeasurement(ctx context.Context, m *Measurement) error

	// GetMeasurement retrieves a specific measurement by ID
	GetMeasurement(ctx context.Context, id int64) (*Measurement, error)

	// GetMeasurementsInRange retrieves all measurements within time range.
	// Uses a half-open interval: inclusive start, exclusive end [start, end).
	GetMeasurementsInRange(ctx context.Context, start, end time.Time) ([]*Measurement, error)

	// GetLatestMeasurement retrieves the most recent measurement
	GetLatestMeasurement(ctx context.Context) (*Measurement, error)

	// DeleteOlderThan removes measurements older than the given age
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}
