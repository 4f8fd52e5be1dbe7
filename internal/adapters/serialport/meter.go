package serialport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// request is the read command; the meter ignores the newline
var request = []byte("R\n")

// MeterConfig controls the client side of the protocol
type MeterConfig struct {
	// ReadTimeout bounds the wait for one response line (and the request write)
	ReadTimeout time.Duration

	// ResetDelay is how long Connect waits for the board to reboot after open
	ResetDelay time.Duration
}

// DefaultMeterConfig waits 2s for the board reset and 3s for each answer
func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		ReadTimeout: 3 * time.Second,
		ResetDelay:  2 * time.Second,
	}
}

type bufferResetter interface {
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

type drainer interface {
	Drain() error
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Meter talks to a sky quality meter over a serial line.
// This implements the ports.LightMeter interface
type Meter struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	config MeterConfig
}

// NewMeter wraps an open port. Reads on port may return (0, nil) on timeout.
func NewMeter(port io.ReadWriteCloser, config MeterConfig) *Meter {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultMeterConfig().ReadTimeout
	}
	return &Meter{
		port:   port,
		config: config,
	}
}

// Connect waits for the board to come out of reset and drops anything it
// printed while booting.
func (m *Meter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.ResetDelay > 0 {
		log.Debug().Dur("delay", m.config.ResetDelay).Msg("waiting for meter reset")

		timer := time.NewTimer(m.config.ResetDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if r, ok := m.port.(bufferResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fmt.Errorf("reset input buffer: %w", err)
		}
	}
	return nil
}

// RequestLine sends one read command and returns the raw response line,
// trimmed. An empty answer is ErrNoData.
func (m *Meter) RequestLine(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deadline := time.Now().Add(m.config.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if r, ok := m.port.(bufferResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return "", fmt.Errorf("reset input buffer: %w", err)
		}
		if err := r.ResetOutputBuffer(); err != nil {
			return "", fmt.Errorf("reset output buffer: %w", err)
		}
	}

	dl, hasDeadline := m.port.(deadliner)
	if hasDeadline {
		if err := dl.SetWriteDeadline(deadline); err != nil {
			return "", fmt.Errorf("set write deadline: %w", err)
		}
		if err := dl.SetReadDeadline(deadline); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}
		defer dl.SetReadDeadline(time.Time{})
		defer dl.SetWriteDeadline(time.Time{})
	}

	log.Debug().Msg("sending read request")
	if _, err := m.port.Write(request); err != nil {
		return "", fmt.Errorf("write request: %w", err)
	}
	if d, ok := m.port.(drainer); ok {
		if err := d.Drain(); err != nil {
			return "", fmt.Errorf("drain: %w", err)
		}
	}

	line, err := m.readLine(ctx, deadline)
	if err != nil {
		return "", err
	}

	log.Debug().Str("line", line).Msg("received response")

	if line == "" {
		return "", domain.ErrNoData
	}
	return line, nil
}

// Read requests and parses one reading
func (m *Meter) Read(ctx context.Context) (domain.Reading, error) {
	line, err := m.RequestLine(ctx)
	if err != nil {
		return domain.Reading{}, err
	}
	return domain.ParseLine(line)
}

// Close closes the port
func (m *Meter) Close() error {
	return m.port.Close()
}

// readLine collects bytes up to '\n' or the deadline. A partial line is
// returned as is when the deadline passes.
func (m *Meter) readLine(ctx context.Context, deadline time.Time) (string, error) {
	var acc []byte
	chunk := make([]byte, 64)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := m.port.Read(chunk)
		acc = append(acc, chunk[:n]...)

		if i := bytes.IndexByte(acc, '\n'); i >= 0 {
			return strings.TrimSpace(string(acc[:i])), nil
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return "", fmt.Errorf("read response: %w", err)
		}

		if n == 0 && !time.Now().Before(deadline) {
			break
		}
	}

	return strings.TrimSpace(string(acc)), nil
}
