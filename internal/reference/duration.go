package reference

import (
	"strings"

	"github.com/sosodev/duration"
)

// NormalizeDelay converts an ISO-8601 duration string to whole seconds.
//
// Values that are not strings, the empty string, and strings that fail to
// parse are returned unchanged. A parse failure is not an error.
func NormalizeDelay(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	seconds, ok := ParseDelay(s)
	if !ok {
		return v
	}
	return seconds
}

// ParseDelay parses an ISO-8601 duration into whole seconds.
// Weeks and days count as fixed lengths. Durations without any component
// ("P", "PT", "P1DT") and durations with years or months have no exact
// length in seconds and are rejected.
func ParseDelay(s string) (int64, bool) {
	if !hasComponents(s) {
		return 0, false
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, false
	}
	if d.Years != 0 || d.Months != 0 {
		return 0, false
	}
	return int64(d.ToTimeDuration().Seconds()), true
}

// hasComponents reports whether both the date part and a present time part
// of s carry at least one number.
func hasComponents(s string) bool {
	rest := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "P")
	date, clock, timed := strings.Cut(rest, "T")
	if timed {
		return containsDigit(clock)
	}
	return containsDigit(date)
}

func containsDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}
