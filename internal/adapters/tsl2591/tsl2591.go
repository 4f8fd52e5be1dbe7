// Package tsl2591 drives the AMS TSL2591 dual-channel light sensor over I2C.
package tsl2591

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

// DefaultAddress is the fixed I2C address of the TSL2591
const DefaultAddress uint16 = 0x29

const (
	commandBit = 0xA0

	regEnable   = 0x00
	regControl  = 0x01
	regDeviceID = 0x12
	regC0DataL  = 0x14 // full spectrum
	regC1DataL  = 0x16 // infrared

	deviceID = 0x50

	enablePowerOff = 0x00
	enablePowerOn  = 0x01
	enableAEN      = 0x02
	enableAIEN     = 0x10
	enableNPIEN    = 0x80

	luxDF = 408.0

	overflow = 0xFFFF
)

var (
	// ErrUnknownDevice indicates the device at the address is not a TSL2591
	ErrUnknownDevice = errors.New("unexpected device id")

	// ErrInvalidTiming indicates an integration time the sensor cannot do
	ErrInvalidTiming = errors.New("integration time must be 100-600ms in 100ms steps")

	// ErrInvalidGain indicates a gain level the sensor cannot do
	ErrInvalidGain = errors.New("invalid gain")
)

// Sensor implements ports.LuminositySensor
type Sensor struct {
	dev         *i2c.Dev
	closer      i2c.BusCloser
	gain        ports.Gain
	integration time.Duration
	wait        func(ctx context.Context, d time.Duration) error
}

// New creates a driver on an already opened bus.
// Defaults are medium gain and 100ms integration, as after power-on.
func New(bus i2c.Bus, addr uint16) *Sensor {
	return &Sensor{
		dev:         &i2c.Dev{Bus: bus, Addr: addr},
		gain:        ports.GainMedium,
		integration: 100 * time.Millisecond,
		wait:        sleep,
	}
}

// Open initializes the host drivers and opens the named I2C bus
// ("" selects the first bus available).
func Open(busName string, addr uint16) (*Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	s := New(bus, addr)
	s.closer = bus
	return s, nil
}

// Close releases the bus if Open created it
func (s *Sensor) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Begin checks the device id and writes the current configuration
func (s *Sensor) Begin() error {
	var id [1]byte
	if err := s.dev.Tx([]byte{commandBit | regDeviceID}, id[:]); err != nil {
		return fmt.Errorf("read device id: %w", err)
	}
	if id[0] != deviceID {
		return fmt.Errorf("%w: %#02x", ErrUnknownDevice, id[0])
	}

	return s.configure()
}

func (s *Sensor) SetGain(gain ports.Gain) error {
	if gain < ports.GainLow || gain > ports.GainMax {
		return fmt.Errorf("%w: %d", ErrInvalidGain, gain)
	}
	s.gain = gain
	return s.configure()
}

func (s *Sensor) SetTiming(integration time.Duration) error {
	if integration < 100*time.Millisecond || integration > 600*time.Millisecond || integration%(100*time.Millisecond) != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTiming, integration)
	}
	s.integration = integration
	return s.configure()
}

// FullLuminosity runs one integration cycle and returns ir<<16 | full
func (s *Sensor) FullLuminosity(ctx context.Context) (uint32, error) {
	if err := s.enable(); err != nil {
		return 0, err
	}
	defer s.disable()

	// the ADC needs one full cycle plus margin before both channels are valid
	if err := s.wait(ctx, time.Duration(s.steps()+1)*120*time.Millisecond); err != nil {
		return 0, err
	}

	full, err := s.read16(regC0DataL)
	if err != nil {
		return 0, fmt.Errorf("read full channel: %w", err)
	}
	ir, err := s.read16(regC1DataL)
	if err != nil {
		return 0, fmt.Errorf("read ir channel: %w", err)
	}

	return uint32(ir)<<16 | uint32(full), nil
}

// CalculateLux converts raw counts with the current gain and timing
func (s *Sensor) CalculateLux(full, ir uint16) float64 {
	return Lux(full, ir, s.gain, s.integration)
}

// Lux is the vendor lux formula. Saturated channels return -1.
func Lux(full, ir uint16, gain ports.Gain, integration time.Duration) float64 {
	if full == overflow || ir == overflow {
		return -1
	}
	if full == 0 {
		return 0
	}

	atime := float64(integration.Milliseconds())
	cpl := atime * gainFactor(gain) / luxDF

	f, i := float64(full), float64(ir)
	return (f - i) * (1 - i/f) / cpl
}

func gainFactor(gain ports.Gain) float64 {
	switch gain {
	case ports.GainMedium:
		return 25
	case ports.GainHigh:
		return 428
	case ports.GainMax:
		return 9876
	}
	return 1
}

func gainBits(gain ports.Gain) byte {
	switch gain {
	case ports.GainMedium:
		return 0x10
	case ports.GainHigh:
		return 0x20
	case ports.GainMax:
		return 0x30
	}
	return 0x00
}

// steps is the integration time in 100ms units
func (s *Sensor) steps() int {
	return int(s.integration / (100 * time.Millisecond))
}

func (s *Sensor) configure() error {
	if err := s.enable(); err != nil {
		return err
	}
	ctrl := gainBits(s.gain) | byte(s.steps()-1)
	if err := s.write8(regControl, ctrl); err != nil {
		return fmt.Errorf("write control: %w", err)
	}
	return s.disable()
}

func (s *Sensor) enable() error {
	if err := s.write8(regEnable, enablePowerOn|enableAEN|enableAIEN|enableNPIEN); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	return nil
}

func (s *Sensor) disable() error {
	if err := s.write8(regEnable, enablePowerOff); err != nil {
		return fmt.Errorf("disable: %w", err)
	}
	return nil
}

func (s *Sensor) write8(reg, value byte) error {
	return s.dev.Tx([]byte{commandBit | reg, value}, nil)
}

func (s *Sensor) read16(reg byte) (uint16, error) {
	var buf [2]byte
	if err := s.dev.Tx([]byte{commandBit | reg}, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
