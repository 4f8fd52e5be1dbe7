package domain

import (
	"fmt"
	"math"
)

const (
	// ZeroPoint is the magnitude offset of the sky-brightness approximation.
	// It is an uncalibrated SQM fit and must not be tuned here.
	ZeroPoint = 12.6

	// MagnitudeScale is the Pogson coefficient applied to log10(luminance).
	MagnitudeScale = 2.5

	// InvalidLine is sent whenever the sensor produced a non-positive lux value.
	// True darkness and a failed read share this line.
	InvalidLine = "LUX:0.00000,SQM:NaN"
)

// Reading is one lux measurement and the sky brightness derived from it.
// SQM is NaN when the lux value was not usable.
type Reading struct {
	Lux float64
	SQM float64
}

// NewReading applies the invalid-reading policy to a raw lux value.
// Anything that is not a finite positive number becomes {0, NaN}.
func NewReading(lux float64) Reading {
	if !(lux > 0) || math.IsInf(lux, 1) {
		return Reading{Lux: 0, SQM: math.NaN()}
	}

	return Reading{
		Lux: lux,
		SQM: SkyBrightness(lux),
	}
}

// SkyBrightness converts illuminance (lux) to magnitudes per square arcsecond.
// The sensor is treated as an isotropic diffuser, so luminance = π × lux (cd/m²).
func SkyBrightness(lux float64) float64 {
	luminance := math.Pi * lux
	return ZeroPoint - MagnitudeScale*math.Log10(luminance)
}

// Valid reports whether the reading carries a sky-brightness estimate.
func (r Reading) Valid() bool {
	return r.Lux > 0 && !math.IsNaN(r.SQM)
}

// Line renders the reading as a protocol response line, without the newline.
func (r Reading) Line() string {
	if !r.Valid() {
		return InvalidLine
	}
	return fmt.Sprintf("LUX:%.5f,SQM:%.2f", r.Lux, r.SQM)
}

// SplitLuminosity unpacks a combined TSL2591 channel read.
// The upper half is the infrared channel, the lower half full spectrum.
func SplitLuminosity(packed uint32) (full, ir uint16) {
	return uint16(packed & 0xFFFF), uint16(packed >> 16)
}

// PackLuminosity is the inverse of SplitLuminosity.
func PackLuminosity(full, ir uint16) uint32 {
	return uint32(ir)<<16 | uint32(full)
}
