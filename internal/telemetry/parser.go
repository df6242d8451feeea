package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"roadsense/internal/models"
)

// ParseLine turns one raw line from the serial stream into a Reading.
// The returned error is the rejection reason; a rejected line has no
// consequence beyond being dropped by the caller. Category tokens are
// upper-cased and passed through verbatim, the hardware vocabulary is
// not validated here.
func ParseLine(line string) (models.Reading, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return models.Reading{}, fmt.Errorf("blank line")
	}

	fields := strings.Split(trimmed, ",")
	if len(fields) != 4 {
		return models.Reading{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	rri, err := parseFinite(fields[0])
	if err != nil {
		return models.Reading{}, fmt.Errorf("rri: %v", err)
	}
	bsi, err := parseFinite(fields[1])
	if err != nil {
		return models.Reading{}, fmt.Errorf("bsi: %v", err)
	}

	return models.Reading{
		RRI:           rri,
		BSI:           bsi,
		RoadCondition: strings.ToUpper(fields[2]),
		BatteryStatus: strings.ToUpper(fields[3]),
	}, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return v, nil
}
