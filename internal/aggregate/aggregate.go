// Package aggregate computes per-country daily statistics from stored partitions.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrsynek/bus-server/internal/encoder"
	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/storage"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// MetricsCollector defines metrics operations for aggregation.
type MetricsCollector interface {
	ObserveAggregationDuration(query string, duration float64)
	IncAggregationResults(outcome string)
}

// Config contains aggregation configuration.
type Config struct {
	// WorkerLimit bounds concurrent (country, date) evaluations in a range query.
	WorkerLimit int
	// MaxRangeDays rejects longer ranges; 0 disables the limit.
	MaxRangeDays int
	// DelayQuantiles adds delay quantiles (e.g. 0.5, 0.95) to every summary.
	DelayQuantiles []float64
}

// Aggregator answers statistics queries. It only reads from the backend.
type Aggregator struct {
	backend storage.Backend
	config  Config
	logger  *slog.Logger
	metrics MetricsCollector
}

// New creates a new aggregator.
func New(backend storage.Backend, config Config, logger *slog.Logger, metrics MetricsCollector) *Aggregator {
	if config.WorkerLimit < 1 {
		config.WorkerLimit = 1
	}
	return &Aggregator{
		backend: backend,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// StatsForDay merges every city partition of country on date into one summary.
//
// It returns nil when no partition exists or none could be read. Unreadable
// partitions are logged and skipped. The error is non-nil only when ctx ends.
func (a *Aggregator) StatsForDay(ctx context.Context, country string, date time.Time) (*transit.Summary, error) {
	start := time.Now()
	defer a.observe("day", start)

	summary, err := a.statsForDay(ctx, country, date)
	if err != nil {
		return nil, err
	}
	a.count(summary)
	return summary, nil
}

func (a *Aggregator) statsForDay(ctx context.Context, country string, date time.Time) (*transit.Summary, error) {
	handles, err := a.backend.List(ctx, country, date)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Error("failed to list partitions",
			"country", country,
			"date", transit.FormatDate(date),
			"backend", a.backend.Name(),
			"error", err,
		)
		return nil, nil
	}
	if len(handles) == 0 {
		return nil, nil
	}

	acc := newAccumulator(a.config.DelayQuantiles)
	read := 0
	for _, h := range handles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := a.backend.Read(ctx, h)
		if err != nil {
			a.logger.Error("failed to read partition",
				"key", h.Key.String(),
				"backend", a.backend.Name(),
				"error", err,
			)
			continue
		}
		records, err := encoder.Decode(data)
		if err != nil {
			a.logger.Error("failed to decode partition",
				"key", h.Key.String(),
				"size", len(data),
				"error", err,
			)
			continue
		}
		acc.Add(records)
		read++
	}

	if read == 0 {
		return nil, nil
	}

	summary := acc.Summary()
	a.logger.Debug("aggregated partitions",
		"country", country,
		"date", transit.FormatDate(date),
		"partitions", read,
		"records", acc.records,
	)
	return &summary, nil
}

// ValidateRange rejects a reversed range or one longer than maxDays (when positive).
func ValidateRange(from, to time.Time, maxDays int) error {
	from, to = transit.Day(from), transit.Day(to)
	if from.After(to) {
		return fmt.Errorf("%w: from %s is after to %s",
			apperrors.ErrInvalidDateRange, transit.FormatDate(from), transit.FormatDate(to))
	}
	days := int(to.Sub(from).Hours()/24) + 1
	if maxDays > 0 && days > maxDays {
		return fmt.Errorf("%w: %d days requested, at most %d allowed",
			apperrors.ErrRangeTooLarge, days, maxDays)
	}
	return nil
}

// StatsForRange evaluates every (country, date) pair of the inclusive range.
// Pairs without data are omitted. A nil countries slice means every stored country.
func (a *Aggregator) StatsForRange(ctx context.Context, countries []string, from, to time.Time) (transit.CountryStats, error) {
	if err := ValidateRange(from, to, a.config.MaxRangeDays); err != nil {
		return nil, err
	}

	start := time.Now()
	defer a.observe("range", start)

	if countries == nil {
		var err error
		countries, err = a.backend.Countries(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list countries: %w", err)
		}
	}

	var (
		mu      sync.Mutex
		result  = make(transit.CountryStats)
		present int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.WorkerLimit)

	for _, date := range transit.Days(from, to) {
		for _, country := range countries {
			g.Go(func() error {
				summary, err := a.statsForDay(gctx, country, date)
				if err != nil {
					return err
				}
				a.count(summary)
				if summary == nil {
					return nil
				}
				mu.Lock()
				result.Set(country, date, *summary)
				present++
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.logger.Info("range query completed",
		"from", transit.FormatDate(from),
		"to", transit.FormatDate(to),
		"countries", len(countries),
		"present", present,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (a *Aggregator) observe(query string, start time.Time) {
	if a.metrics != nil {
		a.metrics.ObserveAggregationDuration(query, time.Since(start).Seconds())
	}
}

func (a *Aggregator) count(summary *transit.Summary) {
	if a.metrics == nil {
		return
	}
	if summary == nil {
		a.metrics.IncAggregationResults("absent")
		return
	}
	a.metrics.IncAggregationResults("present")
}
