package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/quentinrf/sky-quality-meter/internal/adapters/tsl2591"
	"github.com/quentinrf/sky-quality-meter/internal/domain"
	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

// FakeSensor simulates a TSL2591 for development
// This implements the ports.LuminositySensor interface
type FakeSensor struct {
	full      uint16
	ir        uint16
	variation float64

	// BeginErr makes Begin fail, simulating a missing sensor
	BeginErr error

	// ReadErr makes every measurement fail, simulating a bus fault
	ReadErr error

	gain        ports.Gain
	integration time.Duration
	reads       int
}

// NewFakeSensor creates a sensor returning channel counts around full/ir
// full, ir: raw counts (e.g. 1000/200 is about 52 lux at medium gain, 200ms)
// variation: relative noise, 0.1 means ±10%; 0 is deterministic
func NewFakeSensor(full, ir uint16, variation float64) *FakeSensor {
	return &FakeSensor{
		full:        full,
		ir:          ir,
		variation:   variation,
		gain:        ports.GainMedium,
		integration: 100 * time.Millisecond,
	}
}

func (s *FakeSensor) Begin() error {
	return s.BeginErr
}

func (s *FakeSensor) SetGain(gain ports.Gain) error {
	s.gain = gain
	return nil
}

func (s *FakeSensor) SetTiming(integration time.Duration) error {
	s.integration = integration
	return nil
}

// Gain returns the last configured gain
func (s *FakeSensor) Gain() ports.Gain {
	return s.gain
}

// Integration returns the last configured integration time
func (s *FakeSensor) Integration() time.Duration {
	return s.integration
}

// Reads counts FullLuminosity calls
func (s *FakeSensor) Reads() int {
	return s.reads
}

// FullLuminosity returns simulated counts packed as ir<<16 | full
func (s *FakeSensor) FullLuminosity(ctx context.Context) (uint32, error) {
	s.reads++
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	return domain.PackLuminosity(s.jitter(s.full), s.jitter(s.ir)), nil
}

func (s *FakeSensor) CalculateLux(full, ir uint16) float64 {
	return tsl2591.Lux(full, ir, s.gain, s.integration)
}

// jitter adds noise while keeping the count inside the 16-bit range
func (s *FakeSensor) jitter(count uint16) uint16 {
	if s.variation == 0 {
		return count
	}

	v := float64(count) * (1 + (rand.Float64()-0.5)*2*s.variation)
	if v < 0 {
		return 0
	}
	if v > 0xFFFE {
		return 0xFFFE
	}
	return uint16(v)
}
