package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

// SkyQualityHandler implements the gRPC SkyQuality service
type SkyQualityHandler struct {
	repo     domain.MeasurementRepository
	recorder *ports.Recorder
}

// NewSkyQualityHandler creates a new gRPC handler
func NewSkyQualityHandler(repo domain.MeasurementRepository, recorder *ports.Recorder) *SkyQualityHandler {
	return &SkyQualityHandler{
		repo:     repo,
		recorder: recorder,
	}
}

// TakeReading reads the meter now and returns the stored measurement
func (h *SkyQualityHandler) TakeReading(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	log.Info().Msg("TakeReading called")

	m, err := h.recorder.RecordOnce(ctx)
	if err != nil {
		return nil, recordError(err)
	}

	return encodeMeasurement(m)
}

// GetLatestReading returns the most recent reading, taking one if none exist yet
func (h *SkyQualityHandler) GetLatestReading(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	log.Info().Msg("GetLatestReading called")

	m, err := h.repo.GetLatestMeasurement(ctx)
	if errors.Is(err, domain.ErrReadingNotFound) {
		log.Info().Msg("no readings in database, reading meter")

		m, err = h.recorder.RecordOnce(ctx)
		if err != nil {
			return nil, recordError(err)
		}
	} else if err != nil {
		log.Error().Err(err).Msg("failed to get latest measurement")
		return nil, status.Error(codes.Internal, "failed to get reading")
	}

	return encodeMeasurement(m)
}

// GetHistory returns readings within a time range with SQM statistics
func (h *SkyQualityHandler) GetHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	startValue, okStart := f["start_time"]
	endValue, okEnd := f["end_time"]
	if !okStart || !okEnd {
		return nil, status.Error(codes.InvalidArgument, "start_time and end_time are required")
	}

	start := time.Unix(int64(startValue.GetNumberValue()), 0)
	end := time.Unix(int64(endValue.GetNumberValue()), 0)

	log.Info().
		Int64("start", start.Unix()).
		Int64("end", end.Unix()).
		Msg("GetHistory called")

	if end.Before(start) {
		return nil, status.Error(codes.InvalidArgument, "end_time before start_time")
	}

	measurements, err := h.repo.GetMeasurementsInRange(ctx, start, end)
	if err != nil {
		log.Error().Err(err).Msg("failed to get measurements")
		return nil, status.Error(codes.Internal, "failed to get readings")
	}

	readings := make([]any, len(measurements))
	for i, m := range measurements {
		readings[i] = measurementFields(m)
	}

	stats := domain.Summarize(measurements)

	resp, err := structpb.NewStruct(map[string]any{
		"readings":    readings,
		"count":       float64(stats.Count),
		"valid_count": float64(stats.ValidCount),
		"average_lux": stats.AverageLux,
		"average_sqm": nullableNumber(stats.AverageSQM),
		"min_sqm":     nullableNumber(stats.MinSQM),
		"max_sqm":     nullableNumber(stats.MaxSQM),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode history")
		return nil, status.Error(codes.Internal, "failed to encode history")
	}

	return resp, nil
}

func encodeMeasurement(m *domain.Measurement) (*structpb.Struct, error) {
	s, err := measurementToStruct(m)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode measurement")
		return nil, status.Error(codes.Internal, "failed to encode reading")
	}
	return s, nil
}

// recordError maps a recorder failure to a gRPC status
func recordError(err error) error {
	log.Error().Err(err).Msg("failed to record measurement")

	switch {
	case errors.Is(err, domain.ErrNoData),
		errors.Is(err, domain.ErrMalformedLine),
		errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.Unavailable, "meter did not answer")
	case errors.Is(err, domain.ErrInvalidLux):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, "failed to record reading")
	}
}
