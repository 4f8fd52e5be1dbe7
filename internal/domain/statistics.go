package domain

import "math"

// Statistics summarizes a set of measurements.
// SQM figures only cover measurements that have an SQM value and are NaN
// when there are none.
type Statistics struct {
	Count      int
	ValidCount int
	AverageLux float64
	AverageSQM float64
	MinSQM     float64
	MaxSQM     float64
}

// Summarize computes statistics for a set of measurements
func Summarize(measurements []*Measurement) Statistics {
	stats := Statistics{
		Count:      len(measurements),
		AverageSQM: math.NaN(),
		MinSQM:     math.NaN(),
		MaxSQM:     math.NaN(),
	}
	if len(measurements) == 0 {
		return stats
	}

	var luxSum, sqmSum float64
	for _, m := range measurements {
		luxSum += m.Lux

		if !m.HasSQM() {
			continue
		}
		if stats.ValidCount == 0 || m.SQM < stats.MinSQM {
			stats.MinSQM = m.SQM
		}
		if stats.ValidCount == 0 || m.SQM > stats.MaxSQM {
			stats.MaxSQM = m.SQM
		}
		sqmSum += m.SQM
		stats.ValidCount++
	}

	stats.AverageLux = luxSum / float64(len(measurements))
	if stats.ValidCount > 0 {
		stats.AverageSQM = sqmSum / float64(stats.ValidCount)
	}

	return stats
}
