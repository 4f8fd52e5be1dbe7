package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// Measurement is the InfluxDB measurement name for sky readings
const Measurement = "sky_quality"

// Config holds the InfluxDB connection settings
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Sink writes measurements to InfluxDB.
// This implements the ports.MeasurementSink interface
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewSink creates a sink writing to cfg.Bucket
func NewSink(cfg Config) *Sink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

// Ping checks that the server is reachable
func (s *Sink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influx ping: server not ready")
	}
	return nil
}

// Publish writes one point per measurement
func (s *Sink) Publish(ctx context.Context, m *domain.Measurement) error {
	if err := s.writeAPI.WritePoint(ctx, point(m)); err != nil {
		return fmt.Errorf("failed to write point: %w", err)
	}
	return nil
}

// Close releases the client
func (s *Sink) Close() {
	s.client.Close()
}

// point renders a measurement; sqm and bortle are omitted for invalid readings
func point(m *domain.Measurement) *write.Point {
	p := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("category", m.SkyCategory()).
		AddField("lux", m.Lux).
		SetTime(m.Timestamp)

	if m.HasSQM() {
		p.AddField("sqm", m.SQM).
			AddField("bortle", m.Bortle())
	}

	return p
}
