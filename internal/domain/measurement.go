package domain

import (
	"math"
	"time"
)

// Measurement is a reading recorded by the gateway.
// Unlike Reading it has an identity and a timestamp.
type Measurement struct {
	ID        int64
	Lux       float64
	SQM       float64 // NaN when the reading was invalid
	Timestamp time.Time
}

// NewMeasurement stamps a reading with the current time
func NewMeasurement(r Reading) (*Measurement, error) {
	// Lux cannot be negative; an invalid reading arrives as 0/NaN
	if r.Lux < 0 || math.IsNaN(r.Lux) {
		return nil, ErrInvalidLux
	}

	return &Measurement{
		Lux:       r.Lux,
		SQM:       r.SQM,
		Timestamp: time.Now(),
	}, nil
}

// Reading returns the protocol view of the measurement
func (m *Measurement) Reading() Reading {
	return Reading{Lux: m.Lux, SQM: m.SQM}
}

// HasSQM reports whether a sky-brightness value was derived
func (m *Measurement) HasSQM() bool {
	return !math.IsNaN(m.SQM)
}

// Bortle maps the sky brightness onto the Bortle dark-sky scale (1-9).
// Returns 0 when there is no SQM value.
func (m *Measurement) Bortle() int {
	if !m.HasSQM() {
		return 0
	}

	switch {
	case m.SQM >= 21.99:
		return 1
	case m.SQM >= 21.89:
		return 2
	case m.SQM >= 21.69:
		return 3
	case m.SQM >= 20.49:
		return 4
	case m.SQM >= 19.50:
		return 5
	case m.SQM >= 18.94:
		return 6
	case m.SQM >= 18.38:
		return 7
	case m.SQM >= 17.80:
		return 8
	}
	return 9
}

// SkyCategory returns human-readable category
func (m *Measurement) SkyCategory() string {
	switch b := m.Bortle(); {
	case b == 0:
		return "Unknown"
	case b <= 2:
		return "Dark Sky"
	case b <= 4:
		return "Rural Sky"
	case b <= 6:
		return "Suburban Sky"
	}
	return "City Sky"
}
