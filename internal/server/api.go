package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/internal/ingest"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// Ingester schedules ingestion runs and exposes their reports.
type Ingester interface {
	Ingest(ctx context.Context, date time.Time) (ingest.Ack, error)
	Report(runID string) (ingest.Report, bool)
}

// StatsQuerier answers range statistics queries.
type StatsQuerier interface {
	StatsForRange(ctx context.Context, countries []string, from, to time.Time) (transit.CountryStats, error)
}

// MetricsCollector records API request metrics.
type MetricsCollector interface {
	ObserveHTTPRequest(route string, method string, status string, duration float64)
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// API serves the ingestion and statistics endpoints.
type API struct {
	ingester Ingester
	stats    StatsQuerier
	logger   *slog.Logger
	metrics  MetricsCollector
}

// NewAPI creates the API. metrics may be nil.
func NewAPI(ingester Ingester, stats StatsQuerier, logger *slog.Logger, metrics MetricsCollector) *API {
	return &API{
		ingester: ingester,
		stats:    stats,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handler returns the routed API handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.handle(mux, "POST /process-request", a.processRequest)
	a.handle(mux, "GET /country-stats", a.countryStats)
	a.handle(mux, "GET /ingestions/{id}", a.ingestion)
	return mux
}

func (a *API) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, a.instrument(pattern, h))
}

// processRequest acknowledges an ingestion run for ?date= without waiting for it.
func (a *API) processRequest(w http.ResponseWriter, r *http.Request) {
	date, err := transit.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	ack, err := a.ingester.Ingest(r.Context(), date)
	switch {
	case errors.Is(err, apperrors.ErrOrchestratorClosed):
		a.writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		a.logger.Error("ingestion request failed", "date", transit.FormatDate(date), "error", err)
		a.writeError(w, http.StatusBadGateway, err)
		return
	}

	a.writeJSON(w, http.StatusAccepted, ack)
}

// countryStats returns CountryStats for the inclusive ?from=&to= range.
func (a *API) countryStats(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := transit.ParseDate(query.Get("from"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := transit.ParseDate(query.Get("to"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	var countries []string
	if c := query["country"]; len(c) > 0 {
		countries = c
	}

	stats, err := a.stats.StatsForRange(r.Context(), countries, from, to)
	switch {
	case errors.Is(err, apperrors.ErrInvalidDateRange), errors.Is(err, apperrors.ErrRangeTooLarge):
		a.writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		a.logger.Error("statistics query failed",
			"from", transit.FormatDate(from),
			"to", transit.FormatDate(to),
			"error", err,
		)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.writeJSON(w, http.StatusOK, stats)
}

func (a *API) ingestion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report, ok := a.ingester.Report(id)
	if !ok {
		a.writeError(w, http.StatusNotFound, errors.New("unknown ingestion run: "+id))
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		if a.metrics != nil {
			a.metrics.ObserveHTTPRequest(route, r.Method, strconv.Itoa(rec.status), duration.Seconds())
		}
		a.logger.Debug("request served",
			"route", route,
			"status", rec.status,
			"duration_ms", duration.Milliseconds(),
		)
	})
}
