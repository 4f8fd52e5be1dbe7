package grpc

import (
	"context"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "sqm.v1.SkyQuality"

const (
	takeReadingMethod      = "/" + ServiceName + "/TakeReading"
	getLatestReadingMethod = "/" + ServiceName + "/GetLatestReading"
	getHistoryMethod       = "/" + ServiceName + "/GetHistory"
)

// SkyQualityServer is the server API for the SkyQuality service.
// Payloads are protobuf well-known types; see measurementToStruct for the layout.
type SkyQualityServer interface {
	// TakeReading asks the meter for a fresh reading and records it
	TakeReading(context.Context, *emptypb.Empty) (*structpb.Struct, error)

	// GetLatestReading returns the most recent recorded reading
	GetLatestReading(context.Context, *emptypb.Empty) (*structpb.Struct, error)

	// GetHistory takes {start_time, end_time} in unix seconds
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the SkyQuality service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SkyQualityServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "TakeReading",
			Handler:    unaryHandler(takeReadingMethod, SkyQualityServer.TakeReading),
		},
		{
			MethodName: "GetLatestReading",
			Handler:    unaryHandler(getLatestReadingMethod, SkyQualityServer.GetLatestReading),
		},
		{
			MethodName: "GetHistory",
			Handler:    unaryHandler(getHistoryMethod, SkyQualityServer.GetHistory),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sqm/v1/sky_quality.proto",
}

// RegisterSkyQualityServer registers srv on s
func RegisterSkyQualityServer(s grpc.ServiceRegistrar, srv SkyQualityServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler[Req proto.Message](
	fullMethod string,
	call func(SkyQualityServer, context.Context, Req) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newMessage[Req]()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SkyQualityServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SkyQualityServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// newMessage allocates an empty message of the pointer type M
func newMessage[M proto.Message]() M {
	var zero M
	return zero.ProtoReflect().New().Interface().(M)
}

// History is a GetHistory result
type History struct {
	Measurements []*domain.Measurement
	Stats        domain.Statistics
}

// Client calls the SkyQuality service.
// It also implements ports.LightMeter, so a remote gateway can stand in for a serial meter.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established connection
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// TakeReading requests a fresh recorded reading
func (c *Client) TakeReading(ctx context.Context) (*domain.Measurement, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, takeReadingMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return measurementFromStruct(out)
}

// GetLatestReading returns the most recent recorded reading
func (c *Client) GetLatestReading(ctx context.Context) (*domain.Measurement, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getLatestReadingMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return measurementFromStruct(out)
}

// GetHistory returns readings in [start, end) with statistics
func (c *Client) GetHistory(ctx context.Context, start, end time.Time) (*History, error) {
	in, err := structpb.NewStruct(map[string]any{
		"start_time": float64(start.Unix()),
		"end_time":   float64(end.Unix()),
	})
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getHistoryMethod, in, out); err != nil {
		return nil, err
	}

	var history History
	for _, v := range out.GetFields()["readings"].GetListValue().GetValues() {
		m, err := measurementFromStruct(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		history.Measurements = append(history.Measurements, m)
	}

	f := out.GetFields()
	history.Stats = domain.Statistics{
		Count:      int(f["count"].GetNumberValue()),
		ValidCount: int(f["valid_count"].GetNumberValue()),
		AverageLux: f["average_lux"].GetNumberValue(),
		AverageSQM: numberOrNaN(f["average_sqm"]),
		MinSQM:     numberOrNaN(f["min_sqm"]),
		MaxSQM:     numberOrNaN(f["max_sqm"]),
	}
	return &history, nil
}

// Read implements ports.LightMeter
func (c *Client) Read(ctx context.Context) (domain.Reading, error) {
	m, err := c.TakeReading(ctx)
	if err != nil {
		return domain.Reading{}, err
	}
	return m.Reading(), nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func measurementToStruct(m *domain.Measurement) (*structpb.Struct, error) {
	return structpb.NewStruct(measurementFields(m))
}

func measurementFields(m *domain.Measurement) map[string]any {
	return map[string]any{
		"id":        float64(m.ID),
		"lux":       m.Lux,
		"sqm":       nullableNumber(m.SQM),
		"timestamp": m.Timestamp.UTC().Format(time.RFC3339Nano),
		"bortle":    float64(m.Bortle()),
		"category":  m.SkyCategory(),
		"line":      m.Reading().Line(),
	}
}

func measurementFromStruct(s *structpb.Struct) (*domain.Measurement, error) {
	if s == nil {
		return nil, fmt.Errorf("empty measurement")
	}
	f := s.GetFields()

	ts, err := time.Parse(time.RFC3339Nano, f["timestamp"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}

	return &domain.Measurement{
		ID:        int64(f["id"].GetNumberValue()),
		Lux:       f["lux"].GetNumberValue(),
		SQM:       numberOrNaN(f["sqm"]),
		Timestamp: ts,
	}, nil
}

// nullableNumber maps NaN to a protobuf null
func nullableNumber(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func numberOrNaN(v *structpb.Value) float64 {
	if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
		return n.NumberValue
	}
	return math.NaN()
}
