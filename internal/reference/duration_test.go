package reference

import (
	"encoding/json"
	"testing"
)

func TestNormalizeDelay(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"minutes", "PT10M", int64(600)},
		{"hours", "PT1H", int64(3600)},
		{"hours and minutes", "PT1H30M", int64(5400)},
		{"days and hours", "P1DT1H", int64(90000)},
		{"seconds", "PT45S", int64(45)},
		{"fractional seconds truncate", "PT0.5S", int64(0)},
		{"zero seconds", "PT0S", int64(0)},
		{"weeks", "P1W", int64(604800)},
		{"bare designator", "P", "P"},
		{"empty time part", "PT", "PT"},
		{"trailing time designator", "P1DT", "P1DT"},
		{"months", "P1M", "P1M"},
		{"years", "P1Y", "P1Y"},
		{"years with time", "P1YT10M", "P1YT10M"},
		{"empty string", "", ""},
		{"invalid", "invalid", "invalid"},
		{"missing designator", "10M", "10M"},
		{"nil", nil, nil},
		{"integer", 600, 600},
		{"json number", json.Number("600"), json.Number("600")},
		{"bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDelay(tt.in); got != tt.want {
				t.Errorf("NormalizeDelay(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDelay(t *testing.T) {
	if got, ok := ParseDelay("PT2M"); !ok || got != 120 {
		t.Errorf("ParseDelay(PT2M) = %d, %v, want 120, true", got, ok)
	}
	if _, ok := ParseDelay("two minutes"); ok {
		t.Error("ParseDelay() accepted a non-ISO string")
	}
}
