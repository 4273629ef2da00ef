package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/petrsynek/bus-server/pkg/transit"
)

type handlers struct {
	gen        *Generator
	maxLatency time.Duration
	logger     *zap.Logger
}

func newMux(gen *Generator, maxLatency time.Duration, logger *zap.Logger) *http.ServeMux {
	h := &handlers{gen: gen, maxLatency: maxLatency, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /cities", h.cities)
	mux.HandleFunc("GET /cities/{id}/stats", h.stats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (h *handlers) cities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.gen.Cities())
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid city id", http.StatusBadRequest)
		return
	}
	if _, ok := h.gen.City(id); !ok {
		http.Error(w, "unknown city", http.StatusNotFound)
		return
	}
	date, err := transit.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// simulated upstream latency
	if h.maxLatency > 0 {
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(h.maxLatency)))):
		case <-r.Context().Done():
			return
		}
	}

	h.writeJSON(w, r, http.StatusOK, h.gen.Trips(id, date))
}

func (h *handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	requestID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err), zap.String("requestId", requestID))
		return
	}
	h.logger.Debug("Served request",
		zap.String("path", r.URL.Path),
		zap.String("query", r.URL.RawQuery),
		zap.String("requestId", requestID),
	)
}
