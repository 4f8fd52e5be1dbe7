package ports

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// Pipeline turns one sensor measurement into a Reading
type Pipeline struct {
	sensor LuminositySensor
}

// NewPipeline creates a pipeline reading from sensor
func NewPipeline(sensor LuminositySensor) *Pipeline {
	return &Pipeline{sensor: sensor}
}

// Take measures once. A failed bus transfer is reported like any other
// unusable value, as the invalid reading.
func (p *Pipeline) Take(ctx context.Context) domain.Reading {
	packed, err := p.sensor.FullLuminosity(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read luminosity")
		return domain.NewReading(0)
	}

	full, ir := domain.SplitLuminosity(packed)
	lux := p.sensor.CalculateLux(full, ir)

	reading := domain.NewReading(lux)

	log.Debug().
		Uint16("full", full).
		Uint16("ir", ir).
		Float64("lux", lux).
		Bool("valid", reading.Valid()).
		Msg("took reading")

	return reading
}
