package ports

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

const (
	// CommandRead requests one reading
	CommandRead byte = 'R'

	// NotFoundLine is printed once when the sensor does not initialize
	NotFoundLine = "ERROR: TSL2591 not found."

	rxBufferSize = 64
)

// State of the device loop
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateResponding
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateResponding:
		return "responding"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// DeviceConfig holds the fixed sensor configuration
type DeviceConfig struct {
	Gain        Gain
	Integration time.Duration
	HaltTick    time.Duration // idle period while halted
}

// DefaultDeviceConfig is medium gain, 200 ms integration
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Gain:        GainMedium,
		Integration: 200 * time.Millisecond,
		HaltTick:    time.Second,
	}
}

// Device answers read commands arriving on a serial link.
// It is a single polling loop; only one goroutine may call Poll or Run.
type Device struct {
	sensor   LuminositySensor
	pipeline *Pipeline
	link     io.ReadWriter
	config   DeviceConfig

	state atomic.Int32
	buf   [rxBufferSize]byte
	rx    []byte
}

// NewDevice creates a device in the uninitialized state.
// link reads may return (0, nil) when no input is pending.
func NewDevice(sensor LuminositySensor, link io.ReadWriter, config DeviceConfig) *Device {
	if config.HaltTick <= 0 {
		config.HaltTick = time.Second
	}

	return &Device{
		sensor:   sensor,
		pipeline: NewPipeline(sensor),
		link:     link,
		config:   config,
	}
}

// State returns the current state
func (d *Device) State() State {
	return State(d.state.Load())
}

// Start initializes the sensor. On failure the diagnostic line is written
// once and the device halts for good.
func (d *Device) Start() error {
	if d.State() != StateUninitialized {
		return nil
	}

	if err := d.configureSensor(); err != nil {
		d.state.Store(int32(StateHalted))
		log.Error().Err(err).Msg("sensor initialization failed, halting")

		if _, werr := io.WriteString(d.link, NotFoundLine+"\n"); werr != nil {
			log.Error().Err(werr).Msg("failed to write diagnostic line")
		}
		return fmt.Errorf("%w: %v", domain.ErrSensorNotFound, err)
	}

	d.state.Store(int32(StateReady))
	log.Info().
		Str("gain", d.config.Gain.String()).
		Dur("integration", d.config.Integration).
		Msg("sensor ready")
	return nil
}

func (d *Device) configureSensor() error {
	if err := d.sensor.Begin(); err != nil {
		return err
	}
	if err := d.sensor.SetGain(d.config.Gain); err != nil {
		return fmt.Errorf("set gain: %w", err)
	}
	if err := d.sensor.SetTiming(d.config.Integration); err != nil {
		return fmt.Errorf("set timing: %w", err)
	}
	return nil
}

// Poll runs one loop iteration: consume at most one command byte and answer it.
func (d *Device) Poll(ctx context.Context) error {
	switch d.State() {
	case StateHalted:
		return domain.ErrHalted
	case StateUninitialized:
		return domain.ErrNotStarted
	}

	if len(d.rx) == 0 {
		n, err := d.link.Read(d.buf[:])
		if n == 0 {
			return err
		}
		d.rx = append(d.rx[:0], d.buf[:n]...)
	}

	cmd := d.rx[0]
	d.rx = d.rx[1:]

	if cmd != CommandRead {
		return nil
	}

	d.state.Store(int32(StateResponding))
	defer d.state.Store(int32(StateReady))

	reading := d.pipeline.Take(ctx)
	if _, err := io.WriteString(d.link, reading.Line()+"\n"); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Run starts the device if needed and polls until ctx is cancelled or the
// link fails. A halted device idles until ctx is cancelled.
func (d *Device) Run(ctx context.Context) error {
	if d.State() == StateUninitialized {
		_ = d.Start()
	}

	if d.State() == StateHalted {
		return d.idle(ctx)
	}

	log.Info().Msg("listening for commands")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := d.Poll(ctx); err != nil {
			return err
		}
	}
}

// idle keeps a halted device alive without touching the link
func (d *Device) idle(ctx context.Context) error {
	ticker := time.NewTicker(d.config.HaltTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			log.Trace().Msg("halted")
		}
	}
}
