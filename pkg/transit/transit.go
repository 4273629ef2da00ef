// Package transit defines the core domain types of the bus statistics pipeline.
//
// It contains the public API for cities, observed bus trips (records),
// partition keys and the derived per-country summaries.
package transit

import (
	"fmt"
	"time"
)

// DateLayout is the layout used for dates in partition keys and query results.
const DateLayout = "2006-01-02"

// City is a city known to the reference service.
type City struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

// String returns a string representation of the city in the format "name:id".
func (c City) String() string {
	return fmt.Sprintf("%s:%d", c.Name, c.ID)
}

// Delay is the delay of a single trip.
//
// A well-formed ISO-8601 duration is stored as Seconds. A value that could not
// be parsed is kept verbatim in Raw. Both are nil when the reference service
// sent no delay at all.
type Delay struct {
	Seconds *int64
	Raw     *string
}

// DelayOf returns a numeric delay.
func DelayOf(seconds int64) Delay {
	return Delay{Seconds: &seconds}
}

// RawDelay returns a delay preserved as the original string.
func RawDelay(raw string) Delay {
	return Delay{Raw: &raw}
}

// IsNumeric reports whether the delay participates in numeric aggregation.
func (d Delay) IsNumeric() bool {
	return d.Seconds != nil
}

// Equal reports whether two delays hold the same value.
func (d Delay) Equal(o Delay) bool {
	switch {
	case d.Seconds != nil || o.Seconds != nil:
		return d.Seconds != nil && o.Seconds != nil && *d.Seconds == *o.Seconds
	case d.Raw != nil || o.Raw != nil:
		return d.Raw != nil && o.Raw != nil && *d.Raw == *o.Raw
	default:
		return true
	}
}

// Record is one observed bus trip.
type Record struct {
	DepartureTime *time.Time
	BusType       string
	Passengers    int64
	Delay         Delay
	Accident      bool
}

// Equal reports whether two records are field-for-field equal.
func (r Record) Equal(o Record) bool {
	if (r.DepartureTime == nil) != (o.DepartureTime == nil) {
		return false
	}
	if r.DepartureTime != nil && !r.DepartureTime.Equal(*o.DepartureTime) {
		return false
	}
	return r.BusType == o.BusType &&
		r.Passengers == o.Passengers &&
		r.Accident == o.Accident &&
		r.Delay.Equal(o.Delay)
}

// PartitionKey uniquely identifies one stored batch of records.
type PartitionKey struct {
	Country string
	Date    time.Time
	City    string
}

// DateString returns the partition date as YYYY-MM-DD.
func (k PartitionKey) DateString() string {
	return FormatDate(k.Date)
}

// String returns a string representation of the key in the format "country/date/city".
func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Country, k.DateString(), k.City)
}

// Summary contains aggregate statistics for one country and day.
type Summary struct {
	NumberOfBuses   int                `json:"number_of_buses"`
	TotalPassengers int64              `json:"total_passengers"`
	TotalAccidents  int                `json:"total_accidents"`
	AverageDelay    float64            `json:"average_delay"`
	DelayQuantiles  map[string]float64 `json:"delay_quantiles,omitempty"`
}

// DateStats maps a date string (YYYY-MM-DD) to its summary.
type DateStats map[string]Summary

// CountryStats maps a country to its per-date summaries.
// Only present country/date pairs have entries.
type CountryStats map[string]DateStats

// Set stores a summary, creating the per-country map when needed.
func (c CountryStats) Set(country string, date time.Time, s Summary) {
	dates, ok := c[country]
	if !ok {
		dates = make(DateStats)
		c[country] = dates
	}
	dates[FormatDate(date)] = s
}

// FileFormat represents the partition encoding.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// FormatDate formats a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date. It also accepts an RFC 3339 or
// naive ISO-8601 datetime and truncates it to the day.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{DateLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days returns every day in the inclusive range [from, to].
// It returns nil when from is after to.
func Days(from, to time.Time) []time.Time {
	from, to = Day(from), Day(to)
	if from.After(to) {
		return nil
	}
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
