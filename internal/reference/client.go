// Package reference implements the client of the reference service that
// supplies the city list and per-city trip telemetry.
package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/internal/validator"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// statsDateLayout is the datetime layout of the stats endpoint's date parameter.
const statsDateLayout = "2006-01-02T15:04:05"

// maxErrorBody limits how much of an error response is kept for diagnostics.
const maxErrorBody = 512

// MetricsCollector defines metrics operations for the reference client.
type MetricsCollector interface {
	ObserveFetchDuration(endpoint string, status string, duration float64)
}

// Config contains reference service client configuration.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Batch is the outcome of fetching one city and date.
type Batch struct {
	// Records passed validation, in response order.
	Records []transit.Record
	// Rejected holds one entry per quarantined raw record.
	Rejected []*apperrors.ValidationError
}

// Client fetches cities and trip records from the reference service.
// It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	validator  *validator.RecordValidator
	group      singleflight.Group
	logger     *slog.Logger
	metrics    MetricsCollector
}

// NewClient creates a new reference service client.
func NewClient(cfg Config, logger *slog.Logger, metrics MetricsCollector) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid reference base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger.Info("reference client created",
		"base_url", base.String(),
		"timeout", timeout,
		"requests_per_second", cfg.RequestsPerSecond,
	)

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		validator:  validator.NewRecordValidator(NormalizeDelay),
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Cities returns the current city list. Concurrent calls share one request,
// which is bounded by the client timeout rather than by any caller's context.
// Each caller stops waiting when its own ctx is done.
func (c *Client) Cities(ctx context.Context) ([]transit.City, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("cities", func() (interface{}, error) {
		var cities []transit.City
		if err := c.get(shared, "cities", c.baseURL.JoinPath("cities"), &cities); err != nil {
			return nil, err
		}
		return cities, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.logger.Debug("city list request coalesced")
	}

	cities := res.Val.([]transit.City)
	out := make([]transit.City, len(cities))
	copy(out, cities)
	return out, nil
}

// Fetch returns the validated trip records of one city for date.
// An empty response is a valid, empty batch. Records violating the schema are
// quarantined in Batch.Rejected and never fail the fetch.
func (c *Client) Fetch(ctx context.Context, city transit.City, date time.Time) (*Batch, error) {
	u := c.baseURL.JoinPath("cities", strconv.Itoa(city.ID), "stats")
	q := u.Query()
	q.Set("date", transit.Day(date).Format(statsDateLayout))
	u.RawQuery = q.Encode()

	var raw []map[string]any
	if err := c.get(ctx, "stats", u, &raw); err != nil {
		var fetchErr *apperrors.FetchError
		if errors.As(err, &fetchErr) {
			fetchErr.City = city.String()
			fetchErr.Date = date
		}
		return nil, err
	}

	batch := &Batch{Records: make([]transit.Record, 0, len(raw))}
	for i, r := range raw {
		record, err := c.validator.Validate(i, r)
		if err != nil {
			var validationErr *apperrors.ValidationError
			if errors.As(err, &validationErr) {
				batch.Rejected = append(batch.Rejected, validationErr)
				continue
			}
			return nil, err
		}
		batch.Records = append(batch.Records, record)
	}

	if len(batch.Rejected) > 0 {
		c.logger.Warn("quarantined invalid records",
			"city", city.String(),
			"date", transit.FormatDate(date),
			"rejected", len(batch.Rejected),
			"first_error", batch.Rejected[0].Error(),
		)
	}
	if len(raw) == 0 {
		c.logger.Warn("no data found", "city", city.String(), "date", transit.FormatDate(date))
	}

	return batch, nil
}

// get performs a rate-limited GET and decodes the JSON body into out.
// Numbers are decoded as json.Number.
func (c *Client) get(ctx context.Context, endpoint string, u *url.URL, out any) (err error) {
	start := time.Now()
	status := 0
	defer func() {
		if c.metrics != nil {
			label := "error"
			if err == nil {
				label = "ok"
			}
			c.metrics.ObserveFetchDuration(endpoint, label, time.Since(start).Seconds())
		}
	}()

	fail := func(cause error) error {
		return &apperrors.FetchError{URL: u.String(), StatusCode: status, Err: cause}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fail(fmt.Errorf("rate limiter: %w", err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", apperrors.ErrConnectionLost, err)
		}
		return fail(err)
	}
	defer resp.Body.Close()

	status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(fmt.Errorf("unexpected status %s: %s", resp.Status, body))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fail(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
