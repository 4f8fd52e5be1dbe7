// Package serialport carries the meter protocol over a serial line.
package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the meter firmware
const DefaultBaudRate = 115200

// Config describes a serial port
type Config struct {
	Name        string
	BaudRate    int
	ReadTimeout time.Duration // how long one Read may block; 0 blocks until data arrives
}

// Open opens and configures a serial port (8N1)
func Open(cfg Config) (serial.Port, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}

	port, err := serial.Open(cfg.Name, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Name, err)
	}

	timeout := serial.NoTimeout
	if cfg.ReadTimeout > 0 {
		timeout = cfg.ReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Name, err)
	}

	return port, nil
}

// ListPorts returns the names of the serial ports present
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
