package ports

import (
	"context"
	"time"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// Gain is the analog amplification of a light measurement
type Gain int

const (
	GainLow Gain = iota
	GainMedium
	GainHigh
	GainMax
)

func (g Gain) String() string {
	switch g {
	case GainLow:
		return "low"
	case GainMedium:
		return "medium"
	case GainHigh:
		return "high"
	case GainMax:
		return "max"
	}
	return "unknown"
}

// LuminositySensor is the dual-channel light sensor driver.
// This is a PORT - adapters (TSL2591 over I2C, Mock) implement it
type LuminositySensor interface {
	// Begin probes and powers up the device
	Begin() error

	SetGain(gain Gain) error
	SetTiming(integration time.Duration) error

	// FullLuminosity returns both channels packed as ir<<16 | full
	FullLuminosity(ctx context.Context) (uint32, error)

	// CalculateLux applies the sensor's own calibration to raw channel counts
	CalculateLux(full, ir uint16) float64
}

// LightMeter is a remote sky quality meter answering read requests.
// This is a PORT - the serial client and the gateway client implement it
type LightMeter interface {
	// Read requests one reading from the meter
	Read(ctx context.Context) (domain.Reading, error)

	// Close releases any resources
	Close() error
}

// MeasurementSink receives every recorded measurement (InfluxDB, WebSocket clients)
type MeasurementSink interface {
	Publish(ctx context.Context, m *domain.Measurement) error
}
