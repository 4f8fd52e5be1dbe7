package tsl2591

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

func newTestSensor(t *testing.T, ops []i2ctest.IO) (*Sensor, *i2ctest.Playback) {
	t.Helper()

	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	s := New(bus, DefaultAddress)
	s.wait = func(context.Context, time.Duration) error { return nil }
	return s, bus
}

func TestBegin(t *testing.T) {
	s, bus := newTestSensor(t, []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0xB2}, R: []byte{0x50}},
		{Addr: DefaultAddress, W: []byte{0xA0, 0x93}},
		{Addr: DefaultAddress, W: []byte{0xA1, 0x10}},
		{Addr: DefaultAddress, W: []byte{0xA0, 0x00}},
	})

	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("unexpected bus state: %v", err)
	}
}

func TestBegin_WrongDevice(t *testing.T) {
	s, _ := newTestSensor(t, []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0xB2}, R: []byte{0x44}},
	})

	err := s.Begin()
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestBegin_NoDevice(t *testing.T) {
	s, _ := newTestSensor(t, nil)

	if err := s.Begin(); err == nil {
		t.Error("expected error on empty bus, got nil")
	}
}

func TestSetTiming(t *testing.T) {
	s, bus := newTestSensor(t, []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0xA0, 0x93}},
		{Addr: DefaultAddress, W: []byte{0xA1, 0x11}},
		{Addr: DefaultAddress, W: []byte{0xA0, 0x00}},
	})

	if err := s.SetTiming(200 * time.Millisecond); err != nil {
		t.Fatalf("SetTiming failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("unexpected bus state: %v", err)
	}
}

func TestSetTiming_Invalid(t *testing.T) {
	s, _ := newTestSensor(t, nil)

	for _, d := range []time.Duration{0, 50 * time.Millisecond, 150 * time.Millisecond, 700 * time.Millisecond} {
		if err := s.SetTiming(d); !errors.Is(err, ErrInvalidTiming) {
			t.Errorf("SetTiming(%s): expected ErrInvalidTiming, got %v", d, err)
		}
	}
}

func TestSetGain(t *testing.T) {
	s, bus := newTestSensor(t, []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0xA0, 0x93}},
		{Addr: DefaultAddress, W: []byte{0xA1, 0x30}},
		{Addr: DefaultAddress, W: []byte{0xA0, 0x00}},
	})

	if err := s.SetGain(ports.GainMax); err != nil {
		t.Fatalf("SetGain failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("unexpected bus state: %v", err)
	}

	if err := s.SetGain(ports.Gain(9)); !errors.Is(err, ErrInvalidGain) {
		t.Errorf("expected ErrInvalidGain, got %v", err)
	}
}

func TestFullLuminosity(t *testing.T) {
	s, bus := newTestSensor(t, []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0xA0, 0x93}},
		{Addr: DefaultAddress, W: []byte{0xB4}, R: []byte{0xCD, 0xAB}},
		{Addr: DefaultAddress, W: []byte{0xB6}, R: []byte{0x23, 0x01}},
		{Addr: DefaultAddress, W: []byte{0xA0, 0x00}},
	})

	got, err := s.FullLuminosity(context.Background())
	if err != nil {
		t.Fatalf("FullLuminosity failed: %v", err)
	}
	if got != 0x0123ABCD {
		t.Errorf("expected 0x0123ABCD, got %#x", got)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("unexpected bus state: %v", err)
	}
}

func TestFullLuminosity_WaitsForIntegration(t *testing.T) {
	s, _ := newTestSensor(t, []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0xA0, 0x93}},
		{Addr: DefaultAddress, W: []byte{0xA0, 0x00}},
	})

	var waited time.Duration
	s.wait = func(_ context.Context, d time.Duration) error {
		waited = d
		return context.Canceled
	}

	if _, err := s.FullLuminosity(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// 100ms integration: (1+1) * 120ms
	if waited != 240*time.Millisecond {
		t.Errorf("expected 240ms wait, got %s", waited)
	}
}

func TestLux(t *testing.T) {
	tests := []struct {
		name        string
		full, ir    uint16
		gain        ports.Gain
		integration time.Duration
		want        float64
	}{
		{name: "medium gain 200ms", full: 1000, ir: 200, gain: ports.GainMedium, integration: 200 * time.Millisecond, want: 52.224},
		{name: "low gain 100ms", full: 500, ir: 0, gain: ports.GainLow, integration: 100 * time.Millisecond, want: 2040},
		{name: "dark", full: 0, ir: 0, gain: ports.GainMedium, integration: 200 * time.Millisecond, want: 0},
		{name: "full overflow", full: 0xFFFF, ir: 10, gain: ports.GainMedium, integration: 200 * time.Millisecond, want: -1},
		{name: "ir overflow", full: 10, ir: 0xFFFF, gain: ports.GainMedium, integration: 200 * time.Millisecond, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Lux(tt.full, tt.ir, tt.gain, tt.integration)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Lux(%d, %d) = %v, want %v", tt.full, tt.ir, got, tt.want)
			}
		})
	}
}
