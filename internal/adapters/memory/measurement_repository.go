package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// MeasurementRepository implements domain.MeasurementRepository with in-memory storage
type MeasurementRepository struct {
	mu           sync.RWMutex
	measurements map[int64]*domain.Measurement
	nextID       int64
}

// NewMeasurementRepository creates an empty in-memory repository
func NewMeasurementRepository() *MeasurementRepository {
	return &MeasurementRepository{
		measurements: make(map[int64]*domain.Measurement),
		nextID:       1,
	}
}

// SaveMeasurement stores a measurement in memory
func (r *MeasurementRepository) SaveMeasurement(ctx context.Context, m *domain.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == 0 {
		m.ID = r.nextID
		r.nextID++
	}

	// Store a copy so callers can't mutate stored state
	stored := *m
	r.measurements[m.ID] = &stored
	return nil
}

// GetMeasurement retrieves a measurement by ID
func (r *MeasurementRepository) GetMeasurement(ctx context.Context, id int64) (*domain.Measurement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.measurements[id]
	if !exists {
		return nil, domain.ErrReadingNotFound
	}

	out := *m
	return &out, nil
}

// GetMeasurementsInRange returns measurements in [start, end), oldest first
func (r *MeasurementRepository) GetMeasurementsInRange(ctx context.Context, start, end time.Time) ([]*domain.Measurement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.Measurement
	for _, m := range r.measurements {
		if !m.Timestamp.Before(start) && m.Timestamp.Before(end) {
			out := *m
			results = append(results, &out)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].ID < results[j].ID
		}
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	return results, nil
}

// GetLatestMeasurement returns the most recent measurement
func (r *MeasurementRepository) GetLatestMeasurement(ctx context.Context) (*domain.Measurement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.Measurement
	for _, m := range r.measurements {
		if latest == nil || m.Timestamp.After(latest.Timestamp) ||
			(m.Timestamp.Equal(latest.Timestamp) && m.ID > latest.ID) {
			latest = m
		}
	}

	if latest == nil {
		return nil, domain.ErrReadingNotFound
	}

	out := *latest
	return &out, nil
}

// DeleteOlderThan removes measurements older than age
func (r *MeasurementRepository) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-age)

	for id, m := range r.measurements {
		if m.Timestamp.Before(cutoff) {
			delete(r.measurements, id)
		}
	}

	return nil
}
