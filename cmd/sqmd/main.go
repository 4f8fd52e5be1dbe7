package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/sky-quality-meter/internal/adapters/mock"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/serialport"
	"github.com/quentinrf/sky-quality-meter/internal/adapters/tsl2591"
	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

// linkReadTimeout keeps serial reads short so shutdown is noticed
const linkReadTimeout = 100 * time.Millisecond

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	config := loadConfig()

	// The link may be stdout, so logs always go to stderr
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(config.LogLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("starting sky quality meter")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize link
	var link io.ReadWriter
	if config.SerialPort == "" {
		link = stdio{}
		go func() {
			// Unblocks a pending stdin read
			<-ctx.Done()
			os.Stdin.Close()
		}()
		log.Info().Msg("serving on stdin/stdout")
	} else {
		port, err := serialport.Open(serialport.Config{
			Name:        config.SerialPort,
			BaudRate:    config.BaudRate,
			ReadTimeout: linkReadTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Str("port", config.SerialPort).Msg("failed to open serial port")
		}
		defer port.Close()
		link = port
		log.Info().Str("port", config.SerialPort).Int("baud", config.BaudRate).Msg("serving on serial port")
	}

	// Initialize sensor
	var sensor ports.LuminositySensor
	switch config.SensorType {
	case "mock":
		sensor = mock.NewFakeSensor(1000, 200, 0.05) // about 52 lux
		log.Info().Msg("initialized mock sensor")
	default:
		s, err := tsl2591.Open(config.I2CBus, config.I2CAddr)
		if err != nil {
			// The device still starts so the host sees the not-found line
			log.Error().Err(err).Str("bus", config.I2CBus).Msg("failed to open I2C bus")
			sensor = missingSensor{err: err}
			break
		}
		defer s.Close()
		sensor = s
		log.Info().Str("bus", config.I2CBus).Uint16("addr", config.I2CAddr).Msg("initialized TSL2591")
	}

	deviceConfig := ports.DefaultDeviceConfig()
	deviceConfig.HaltTick = config.HaltTick

	device := ports.NewDevice(sensor, link, deviceConfig)

	err := device.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info().Str("state", device.State().String()).Msg("meter stopped")
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
		log.Info().Msg("link closed")
	default:
		log.Fatal().Err(err).Msg("meter failed")
	}
}

// stdio joins stdin and stdout into one link
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// missingSensor stands in for a sensor whose bus could not be opened
type missingSensor struct {
	err error
}

func (s missingSensor) Begin() error                  { return s.err }
func (s missingSensor) SetGain(ports.Gain) error      { return s.err }
func (s missingSensor) SetTiming(time.Duration) error { return s.err }
func (s missingSensor) CalculateLux(uint16, uint16) float64 {
	return 0
}
func (s missingSensor) FullLuminosity(context.Context) (uint32, error) {
	return 0, s.err
}

// Config holds meter configuration
type Config struct {
	SerialPort string // empty serves on stdin/stdout
	BaudRate   int
	SensorType string // "tsl2591" | "mock"
	I2CBus     string // periph bus name, empty picks the first bus
	I2CAddr    uint16
	HaltTick   time.Duration
	LogLevel   zerolog.Level
}

// loadConfig reads configuration from environment variables
func loadConfig() Config {
	baud := serialport.DefaultBaudRate
	if v := os.Getenv("SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			baud = n
		}
	}

	sensorType := os.Getenv("SENSOR_TYPE")
	if sensorType == "" {
		sensorType = "tsl2591"
	}

	addr := tsl2591.DefaultAddress
	if v := os.Getenv("I2C_ADDR"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 16); err == nil {
			addr = uint16(n)
		}
	}

	haltTick := ports.DefaultDeviceConfig().HaltTick
	if v := os.Getenv("HALT_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			haltTick = d
		}
	}

	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			level = l
		}
	}

	return Config{
		SerialPort: os.Getenv("SERIAL_PORT"),
		BaudRate:   baud,
		SensorType: sensorType,
		I2CBus:     os.Getenv("I2C_BUS"),
		I2CAddr:    addr,
		HaltTick:   haltTick,
		LogLevel:   level,
	}
}
