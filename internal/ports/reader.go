package ports

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// Recorder handles periodic meter reading and storage
type Recorder struct {
	meter     LightMeter
	repo      domain.MeasurementRepository
	sinks     []MeasurementSink
	interval  time.Duration
	retention time.Duration
}

// NewRecorder creates a new background recorder
func NewRecorder(meter LightMeter, repo domain.MeasurementRepository, interval, retention time.Duration, sinks ...MeasurementSink) *Recorder {
	return &Recorder{
		meter:     meter,
		repo:      repo,
		sinks:     sinks,
		interval:  interval,
		retention: retention,
	}
}

// Start begins periodic meter reading
// This runs in a goroutine until context is cancelled
func (r *Recorder) Start(ctx context.Context) {
	log.Info().
		Dur("interval", r.interval).
		Dur("retention", r.retention).
		Msg("starting background recorder")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	// Record immediately on start
	if _, err := r.RecordOnce(ctx); err != nil {
		log.Error().Err(err).Msg("failed to record measurement")
	}

	for {
		select {
		case <-ticker.C:
			if _, err := r.RecordOnce(ctx); err != nil {
				log.Error().Err(err).Msg("failed to record measurement")
			}

		case <-cleanupTicker.C:
			if err := r.repo.DeleteOlderThan(ctx, r.retention); err != nil {
				log.Error().Err(err).Msg("failed to delete old measurements")
			} else {
				log.Info().Dur("retention", r.retention).Msg("deleted old measurements")
			}

		case <-ctx.Done():
			log.Info().Msg("stopping background recorder")
			return
		}
	}
}

// RecordOnce reads the meter, saves the measurement and publishes it to sinks.
// Sink failures are logged, not returned.
func (r *Recorder) RecordOnce(ctx context.Context) (*domain.Measurement, error) {
	log.Debug().Msg("reading meter")

	reading, err := r.meter.Read(ctx)
	if err != nil {
		return nil, err
	}

	m, err := domain.NewMeasurement(reading)
	if err != nil {
		return nil, err
	}

	if err := r.repo.SaveMeasurement(ctx, m); err != nil {
		return nil, err
	}

	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, m); err != nil {
			log.Error().Err(err).Msg("failed to publish measurement")
		}
	}

	log.Info().
		Float64("lux", m.Lux).
		Str("line", reading.Line()).
		Str("category", m.SkyCategory()).
		Msg("recorded sky reading")

	return m, nil
}
