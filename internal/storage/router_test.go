package storage

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/transit"
)

var testDate = time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)

func TestNewRouter(t *testing.T) {
	tests := []struct {
		basePath string
		want     string
	}{
		{"", ""},
		{"stats", "stats/"},
		{"/stats/", "stats/"},
		{"a/b", "a/b/"},
	}
	for _, tt := range tests {
		if got := NewRouter(tt.basePath).RootPrefix(); got != tt.want {
			t.Errorf("NewRouter(%q).RootPrefix() = %q, want %q", tt.basePath, got, tt.want)
		}
	}
}

func TestDefaultRouter_Route(t *testing.T) {
	tests := []struct {
		name     string
		basePath string
		key      transit.PartitionKey
		want     string
		wantErr  bool
	}{
		{
			name: "no base path",
			key:  transit.PartitionKey{Country: "CZ", Date: testDate, City: "Prague"},
			want: "CZ/2023-10-01/Prague/data",
		},
		{
			name:     "with base path",
			basePath: "bus-stats",
			key:      transit.PartitionKey{Country: "CZ", Date: testDate, City: "Prague"},
			want:     "bus-stats/CZ/2023-10-01/Prague/data",
		},
		{
			name: "city with spaces",
			key:  transit.PartitionKey{Country: "United States", Date: testDate, City: "New York"},
			want: "United States/2023-10-01/New York/data",
		},
		{
			name:    "empty city",
			key:     transit.PartitionKey{Country: "CZ", Date: testDate},
			wantErr: true,
		},
		{
			name:    "empty country",
			key:     transit.PartitionKey{Date: testDate, City: "Prague"},
			wantErr: true,
		},
		{
			name:    "slash in city",
			key:     transit.PartitionKey{Country: "CZ", Date: testDate, City: "Brno/North"},
			wantErr: true,
		},
		{
			name:    "backslash in country",
			key:     transit.PartitionKey{Country: `C\Z`, Date: testDate, City: "Prague"},
			wantErr: true,
		},
		{
			name:    "dot-dot city",
			key:     transit.PartitionKey{Country: "CZ", Date: testDate, City: ".."},
			wantErr: true,
		},
		{
			name:    "zero date",
			key:     transit.PartitionKey{Country: "CZ", City: "Prague"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRouter(tt.basePath).Route(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Route() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrInvalidPartitionKey) {
					t.Errorf("Route() error = %v, want ErrInvalidPartitionKey", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Route() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultRouter_Prefix(t *testing.T) {
	got, err := NewRouter("base").Prefix("CZ", testDate)
	if err != nil {
		t.Fatalf("Prefix() error = %v", err)
	}
	if want := "base/CZ/2023-10-01/"; got != want {
		t.Errorf("Prefix() = %q, want %q", got, want)
	}

	if _, err := NewRouter("").Prefix("", testDate); err == nil {
		t.Error("Prefix() expected error for empty country")
	}
}

func TestDefaultRouter_Parse(t *testing.T) {
	tests := []struct {
		name     string
		basePath string
		path     string
		want     transit.PartitionKey
		wantOK   bool
	}{
		{
			name:   "valid",
			path:   "CZ/2023-10-01/Prague/data",
			want:   transit.PartitionKey{Country: "CZ", Date: testDate, City: "Prague"},
			wantOK: true,
		},
		{
			name:     "valid with base",
			basePath: "base",
			path:     "base/CZ/2023-10-01/Prague/data",
			want:     transit.PartitionKey{Country: "CZ", Date: testDate, City: "Prague"},
			wantOK:   true,
		},
		{name: "outside base", basePath: "base", path: "other/CZ/2023-10-01/Prague/data"},
		{name: "wrong object", path: "CZ/2023-10-01/Prague/data.tmp"},
		{name: "bad date", path: "CZ/2023-13-01/Prague/data"},
		{name: "too short", path: "CZ/2023-10-01/data"},
		{name: "too deep", path: "CZ/2023-10-01/Prague/x/data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewRouter(tt.basePath).Parse(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Parse() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (got.Country != tt.want.Country || got.City != tt.want.City || !got.Date.Equal(tt.want.Date)) {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDefaultRouter_RouteParseRoundTrip(t *testing.T) {
	router := NewRouter("root")
	key := transit.PartitionKey{Country: "SK", Date: testDate, City: "Bratislava"}

	path, err := router.Route(key)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	got, ok := router.Parse(path)
	if !ok {
		t.Fatalf("Parse(%q) failed", path)
	}
	if got.String() != key.String() {
		t.Errorf("round trip = %v, want %v", got, key)
	}
}

func TestDefaultRouter_CountryOf(t *testing.T) {
	tests := []struct {
		basePath string
		path     string
		want     string
		wantOK   bool
	}{
		{"base", "base/CZ/2023-10-01/Prague/data", "CZ", true},
		{"base", "base/CZ/", "CZ", true},
		{"", "DE/", "DE", true},
		{"base", "elsewhere/CZ/x", "", false},
		{"base", "base/../", "", false},
		{"base", "base//", "", false},
		{"", "CZ", "", false},
	}
	for _, tt := range tests {
		got, ok := NewRouter(tt.basePath).CountryOf(tt.path)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NewRouter(%q).CountryOf(%q) = %q, %v, want %q, %v", tt.basePath, tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}
