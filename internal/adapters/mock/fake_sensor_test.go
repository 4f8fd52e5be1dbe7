package mock

import (
	"bufio"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

func TestFakeSensor_Deterministic(t *testing.T) {
	s := NewFakeSensor(1000, 200, 0)

	for i := 0; i < 3; i++ {
		packed, err := s.FullLuminosity(context.Background())
		if err != nil {
			t.Fatalf("FullLuminosity failed: %v", err)
		}
		full, ir := domain.SplitLuminosity(packed)
		if full != 1000 || ir != 200 {
			t.Errorf("expected 1000/200, got %d/%d", full, ir)
		}
	}
	if s.Reads() != 3 {
		t.Errorf("expected 3 reads, got %d", s.Reads())
	}
}

func TestFakeSensor_VariationStaysInRange(t *testing.T) {
	s := NewFakeSensor(60000, 100, 0.5)

	for i := 0; i < 200; i++ {
		packed, _ := s.FullLuminosity(context.Background())
		full, ir := domain.SplitLuminosity(packed)
		if full == 0xFFFF || ir == 0xFFFF {
			t.Fatalf("jitter produced an overflow value: %d/%d", full, ir)
		}
		if ir < 50 || ir > 150 {
			t.Errorf("ir %d outside ±50%% of 100", ir)
		}
	}
}

func TestFakeSensor_Errors(t *testing.T) {
	s := NewFakeSensor(1000, 200, 0)
	s.BeginErr = errors.New("not found")
	s.ReadErr = errors.New("nack")

	if err := s.Begin(); err == nil {
		t.Error("expected Begin error")
	}
	if _, err := s.FullLuminosity(context.Background()); err == nil {
		t.Error("expected read error")
	}
}

func TestStartSimulatedDevice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sensor := NewFakeSensor(1000, 200, 0)
	conn := StartSimulatedDevice(ctx, sensor, ports.DefaultDeviceConfig())
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetDeadline failed: %v", err)
	}

	if _, err := conn.Write([]byte("R\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	if line != "LUX:52.22400,SQM:7.06\n" {
		t.Errorf("unexpected line %q", line)
	}
	if sensor.Integration() != 200*time.Millisecond {
		t.Errorf("expected device to configure 200ms, got %s", sensor.Integration())
	}
}
