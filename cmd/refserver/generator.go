package main

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jaswdr/faker"

	"github.com/petrsynek/bus-server/pkg/transit"
)

// TripRow is one trip record in the reference service wire format.
type TripRow struct {
	DepartureTime string `json:"departure-time"`
	BusType       string `json:"bus-type"`
	Passengers    int    `json:"passengers"`
	Delay         string `json:"delay"`
	Accident      bool   `json:"accident"`
}

// Generator produces a fixed city list and reproducible trip records.
type Generator struct {
	seed   int64
	cities []transit.City
	byID   map[int]transit.City
}

// NewGenerator creates numCities cities spread over numCountries countries.
// The same seed always yields the same cities.
func NewGenerator(seed int64, numCountries, numCities int) *Generator {
	f := faker.NewWithSeed(rand.NewSource(seed))

	countries := uniqueNames(numCountries, func() string { return f.Address().Country() })
	names := uniqueNames(numCities, func() string { return f.Address().City() })

	g := &Generator{
		seed:   seed,
		cities: make([]transit.City, 0, numCities),
		byID:   make(map[int]transit.City, numCities),
	}
	for i, name := range names {
		city := transit.City{
			ID:      i,
			Name:    name,
			Country: countries[f.IntBetween(0, len(countries)-1)],
		}
		g.cities = append(g.cities, city)
		g.byID[city.ID] = city
	}
	return g
}

// uniqueNames draws n distinct names usable as partition path segments.
func uniqueNames(n int, next func() string) []string {
	seen := make(map[string]bool, n)
	out := make([]string, 0, n)
	for len(out) < n {
		name := strings.TrimSpace(next())
		if name == "" || seen[name] || strings.ContainsAny(name, `/\`) {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Cities returns all cities.
func (g *Generator) Cities() []transit.City {
	out := make([]transit.City, len(g.cities))
	copy(out, g.cities)
	return out
}

// City looks up a city by id.
func (g *Generator) City(id int) (transit.City, bool) {
	c, ok := g.byID[id]
	return c, ok
}

// Trips returns between 1000 and 3000 trips for city and date. Repeated calls
// with the same arguments return the same trips.
func (g *Generator) Trips(cityID int, date time.Time) []TripRow {
	date = transit.Day(date)
	f := faker.NewWithSeed(rand.NewSource(g.seed ^ int64(cityID+1)*1_000_003 ^ date.Unix()))

	rows := make([]TripRow, f.IntBetween(1000, 3000))
	for i := range rows {
		departure := date.Add(time.Duration(f.IntBetween(0, 720)) * time.Minute)
		rows[i] = TripRow{
			DepartureTime: departure.Format("2006-01-02T15:04:05"),
			BusType:       fmt.Sprintf("BUS-%d", f.IntBetween(100, 113)),
			Passengers:    f.IntBetween(5, 100),
			Delay:         fmt.Sprintf("PT%dM", f.IntBetween(0, 90)),
			Accident:      f.IntBetween(1, 10) == 1,
		}
	}
	return rows
}
