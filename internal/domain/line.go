package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseLine decodes a "LUX:<value>,SQM:<value>" response line.
// SQM may be NaN in any letter case; LUX must always be numeric.
func ParseLine(line string) (Reading, error) {
	line = strings.TrimSpace(line)

	if !strings.Contains(line, "LUX:") || !strings.Contains(line, "SQM:") {
		return Reading{}, fmt.Errorf("%w: no LUX:/SQM: markers in %q", ErrMalformedLine, line)
	}

	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return Reading{}, fmt.Errorf("%w: expected 2 fields, got %d in %q", ErrMalformedLine, len(parts), line)
	}

	luxPart := strings.TrimSpace(parts[0])
	sqmPart := strings.TrimSpace(parts[1])
	if !strings.HasPrefix(luxPart, "LUX:") || !strings.HasPrefix(sqmPart, "SQM:") {
		return Reading{}, fmt.Errorf("%w: fields must start with LUX: and SQM: in %q", ErrMalformedLine, line)
	}

	luxStr := strings.TrimSpace(strings.TrimPrefix(luxPart, "LUX:"))
	sqmStr := strings.TrimSpace(strings.TrimPrefix(sqmPart, "SQM:"))

	lux, err := strconv.ParseFloat(luxStr, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: lux %q: %v", ErrMalformedLine, luxStr, err)
	}

	sqm := math.NaN()
	if !strings.EqualFold(sqmStr, "nan") {
		sqm, err = strconv.ParseFloat(sqmStr, 64)
		if err != nil {
			return Reading{}, fmt.Errorf("%w: sqm %q: %v", ErrMalformedLine, sqmStr, err)
		}
	}

	return Reading{Lux: lux, SQM: sqm}, nil
}
