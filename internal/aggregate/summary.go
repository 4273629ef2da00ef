package aggregate

import (
	"strconv"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/petrsynek/bus-server/pkg/transit"
)

// sketchAccuracy is the relative accuracy of delay quantiles.
const sketchAccuracy = 0.01

// accumulator pools the records of every partition of one country and day.
// The average delay is taken over individual records, never over partitions.
type accumulator struct {
	busTypes   map[string]struct{}
	passengers int64
	accidents  int
	delaySum   float64
	delayCount int64
	records    int

	// nil when quantiles are disabled
	sketch    *ddsketch.DDSketch
	quantiles []float64
}

func newAccumulator(quantiles []float64) *accumulator {
	acc := &accumulator{
		busTypes:  make(map[string]struct{}),
		quantiles: quantiles,
	}
	if len(quantiles) > 0 {
		if sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy); err == nil {
			acc.sketch = sketch
		}
	}
	return acc
}

// Add merges records into the running totals.
func (a *accumulator) Add(records []transit.Record) {
	for _, r := range records {
		a.records++
		a.busTypes[r.BusType] = struct{}{}
		a.passengers += r.Passengers
		if r.Accident {
			a.accidents++
		}
		// malformed delays are stored but take no part in numeric aggregation
		if r.Delay.IsNumeric() {
			v := float64(*r.Delay.Seconds)
			a.delaySum += v
			a.delayCount++
			if a.sketch != nil {
				_ = a.sketch.Add(v)
			}
		}
	}
}

// Summary returns the statistics of everything added so far.
func (a *accumulator) Summary() transit.Summary {
	s := transit.Summary{
		NumberOfBuses:   len(a.busTypes),
		TotalPassengers: a.passengers,
		TotalAccidents:  a.accidents,
	}
	if a.delayCount > 0 {
		s.AverageDelay = a.delaySum / float64(a.delayCount)
	}

	if a.sketch != nil && a.delayCount > 0 {
		s.DelayQuantiles = make(map[string]float64, len(a.quantiles))
		for _, q := range a.quantiles {
			if v, err := a.sketch.GetValueAtQuantile(q); err == nil {
				s.DelayQuantiles[QuantileLabel(q)] = v
			}
		}
	}
	return s
}

// QuantileLabel names a quantile, e.g. 0.95 -> "p95".
func QuantileLabel(q float64) string {
	return "p" + strconv.FormatFloat(q*100, 'f', -1, 64)
}
