package telemetry

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// framePatterns locate the fields of a radio frame such as
// "T:24.10C, P:1013.25hPa, AX:0.01, AY:-0.02, AZ:0.98, GX:1.50, GY:-2.00, GZ:0.00, MX:...".
// Fields may appear in any order and unrelated fields are ignored.
var framePatterns = []struct {
	name string
	expr *regexp.Regexp
}{
	{"pressure", regexp.MustCompile(`\bP:\s*([-+]?[\d.]+(?:[eE][-+]?\d+)?)\s*hPa`)},
	{"gx", regexp.MustCompile(`\bGX:\s*([-+]?[\d.]+(?:[eE][-+]?\d+)?)`)},
	{"gy", regexp.MustCompile(`\bGY:\s*([-+]?[\d.]+(?:[eE][-+]?\d+)?)`)},
	{"gz", regexp.MustCompile(`\bGZ:\s*([-+]?[\d.]+(?:[eE][-+]?\d+)?)`)},
}

// ParseFrame decodes a radio frame into a record with source radio and exactly pressure, gx,
// gy and gz populated. All four fields are required; if any is missing or does not parse the
// whole frame is rejected with ErrInvalidFormat. An empty frame yields ErrNoData.
func ParseFrame(frame string) (*Record, error) {
	if strings.TrimSpace(frame) == "" {
		return nil, ErrNoData
	}

	values := make([]float64, len(framePatterns))
	for i, p := range framePatterns {
		m := p.expr.FindStringSubmatch(frame)
		if m == nil {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidFormat, p.name)
		}

		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: bad %s %q", ErrInvalidFormat, p.name, m[1])
		}
		values[i] = v
	}

	return &Record{
		Source:   SourceRadio,
		Pressure: &values[0],
		GX:       &values[1],
		GY:       &values[2],
		GZ:       &values[3],
	}, nil
}
