package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// defaultHistoryWindow applies when start is omitted
const defaultHistoryWindow = 24 * time.Hour

// handleTakeReading reads the meter now
func (s *Server) handleTakeReading(c *gin.Context) {
	m, err := s.recorder.RecordOnce(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to record measurement")

		code := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNoData) ||
			errors.Is(err, domain.ErrMalformedLine) ||
			errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, APIResponse{
			Status: "error",
			Error:  "failed to take reading: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, APIResponse{
		Status: "success",
		Data:   newReadingResponse(m),
	})
}

// handleGetLatest returns the most recent stored reading
func (s *Server) handleGetLatest(c *gin.Context) {
	m, err := s.repo.GetLatestMeasurement(c.Request.Context())
	if errors.Is(err, domain.ErrReadingNotFound) {
		c.JSON(http.StatusNotFound, APIResponse{
			Status: "error",
			Error:  "no readings recorded yet",
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to get latest measurement")
		c.JSON(http.StatusInternalServerError, APIResponse{
			Status: "error",
			Error:  "failed to get reading",
		})
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Status: "success",
		Data:   newReadingResponse(m),
	})
}

// handleGetHistory returns readings in [start, end), both unix seconds.
// end defaults to now, start to 24h before end.
func (s *Server) handleGetHistory(c *gin.Context) {
	end := time.Now()
	if v := c.Query("end"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, APIResponse{Status: "error", Error: "invalid end: " + v})
			return
		}
		end = time.Unix(sec, 0)
	}

	start := end.Add(-defaultHistoryWindow)
	if v := c.Query("start"); v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, APIResponse{Status: "error", Error: "invalid start: " + v})
			return
		}
		start = time.Unix(sec, 0)
	}

	if end.Before(start) {
		c.JSON(http.StatusBadRequest, APIResponse{Status: "error", Error: "end before start"})
		return
	}

	ms, err := s.repo.GetMeasurementsInRange(c.Request.Context(), start, end)
	if err != nil {
		log.Error().Err(err).Msg("failed to get measurements")
		c.JSON(http.StatusInternalServerError, APIResponse{
			Status: "error",
			Error:  "failed to get readings",
		})
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Status: "success",
		Data:   newHistoryResponse(ms),
	})
}
