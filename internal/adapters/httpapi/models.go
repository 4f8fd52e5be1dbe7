package httpapi

import (
	"math"
	"time"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// APIResponse is the envelope for every JSON response
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ReadingResponse is a measurement as served over HTTP and WebSocket.
// SQM is null for invalid readings.
type ReadingResponse struct {
	ID        int64     `json:"id"`
	Lux       float64   `json:"lux"`
	SQM       *float64  `json:"sqm"`
	Timestamp time.Time `json:"timestamp"`
	Bortle    int       `json:"bortle"`
	Category  string    `json:"category"`
	Line      string    `json:"line"`
}

// HistoryResponse lists readings in a time range with SQM statistics
type HistoryResponse struct {
	Readings   []ReadingResponse `json:"readings"`
	Count      int               `json:"count"`
	ValidCount int               `json:"valid_count"`
	AverageLux float64           `json:"average_lux"`
	AverageSQM *float64          `json:"average_sqm"`
	MinSQM     *float64          `json:"min_sqm"`
	MaxSQM     *float64          `json:"max_sqm"`
}

func newReadingResponse(m *domain.Measurement) ReadingResponse {
	return ReadingResponse{
		ID:        m.ID,
		Lux:       m.Lux,
		SQM:       optional(m.SQM),
		Timestamp: m.Timestamp.UTC(),
		Bortle:    m.Bortle(),
		Category:  m.SkyCategory(),
		Line:      m.Reading().Line(),
	}
}

func newHistoryResponse(ms []*domain.Measurement) HistoryResponse {
	stats := domain.Summarize(ms)

	readings := make([]ReadingResponse, len(ms))
	for i, m := range ms {
		readings[i] = newReadingResponse(m)
	}

	return HistoryResponse{
		Readings:   readings,
		Count:      stats.Count,
		ValidCount: stats.ValidCount,
		AverageLux: stats.AverageLux,
		AverageSQM: optional(stats.AverageSQM),
		MinSQM:     optional(stats.MinSQM),
		MaxSQM:     optional(stats.MaxSQM),
	}
}

// optional maps NaN to nil; encoding/json rejects NaN
func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
