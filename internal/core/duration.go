package core

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var iso8601DurationRe = regexp.MustCompile(`^PT(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// ParseISO8601Duration parses a time-only ISO-8601 duration such as
// "PT30S" or "PT1H30M". Date components (days and larger) are rejected,
// as are zero and negative durations.
func ParseISO8601Duration(s string) (time.Duration, error) {
	m := iso8601DurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	var seconds float64
	for i, mult := range []float64{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
		}
		seconds += v * mult
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", s)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// FormatISO8601Duration renders d as a time-only ISO-8601 duration with
// whole-second precision.
func FormatISO8601Duration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	out := "PT"
	if h > 0 {
		out += strconv.FormatInt(h, 10) + "H"
	}
	if m > 0 {
		out += strconv.FormatInt(m, 10) + "M"
	}
	if s > 0 || out == "PT" {
		out += strconv.FormatInt(s, 10) + "S"
	}
	return out
}
