package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/transit"
)

type mockMetricsCollector struct {
	mu        sync.Mutex
	durations map[string]int
}

func (m *mockMetricsCollector) ObserveFetchDuration(endpoint string, status string, duration float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.durations == nil {
		m.durations = make(map[string]int)
	}
	m.durations[endpoint+"/"+status]++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *mockMetricsCollector) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	metrics := &mockMetricsCollector{}
	client, err := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, discardLogger(), metrics)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, metrics
}

var testDate = time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"valid", "http://localhost:8080", false},
		{"with path", "http://localhost:8080/api/", false},
		{"no scheme", "localhost:8080", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(Config{BaseURL: tt.baseURL}, discardLogger(), nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Cities(t *testing.T) {
	client, metrics := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cities" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[{"id":1,"name":"Prague","country":"CZ"},{"id":2,"name":"Kosice","country":"SK"}]`)
	}))

	cities, err := client.Cities(context.Background())
	if err != nil {
		t.Fatalf("Cities() error = %v", err)
	}
	want := []transit.City{{ID: 1, Name: "Prague", Country: "CZ"}, {ID: 2, Name: "Kosice", Country: "SK"}}
	if len(cities) != len(want) {
		t.Fatalf("Cities() returned %d cities, want %d", len(cities), len(want))
	}
	for i := range want {
		if cities[i] != want[i] {
			t.Errorf("city %d = %+v, want %+v", i, cities[i], want[i])
		}
	}
	if metrics.durations["cities/ok"] != 1 {
		t.Errorf("fetch duration observations = %v, want cities/ok once", metrics.durations)
	}
}

func TestClient_CitiesCoalesced(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		fmt.Fprint(w, `[{"id":1,"name":"Prague","country":"CZ"}]`)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Cities(context.Background()); err != nil {
				t.Errorf("Cities() error = %v", err)
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestClient_CitiesError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	_, err := client.Cities(context.Background())
	var fetchErr *apperrors.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Cities() error = %v, want *FetchError", err)
	}
	if fetchErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want %d", fetchErr.StatusCode, http.StatusBadGateway)
	}
	if !fetchErr.IsRetryable() {
		t.Error("502 should be retryable")
	}
}

func TestClient_CitiesCallerCancelled(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		fmt.Fprint(w, `[{"id":1,"name":"Prague","country":"CZ"}]`)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.Cities(ctx)
		firstErr <- err
	}()
	<-started

	type result struct {
		cities []transit.City
		err    error
	}
	second := make(chan result, 1)
	go func() {
		cities, err := client.Cities(context.Background())
		second <- result{cities, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Cities() error = %v, want %v", err, context.Canceled)
	}

	close(release)
	got := <-second
	if got.err != nil {
		t.Fatalf("Cities() error = %v, want nil", got.err)
	}
	if len(got.cities) != 1 || got.cities[0].Name != "Prague" {
		t.Errorf("Cities() = %+v, want [Prague]", got.cities)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestClient_FetchKeepsInexactDelaysRaw(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"bus-type":"BUS-100","passengers":10,"delay":"PT20M","accident":false},
			{"bus-type":"BUS-101","passengers":10,"delay":"P","accident":false},
			{"bus-type":"BUS-102","passengers":10,"delay":"PT","accident":false},
			{"bus-type":"BUS-103","passengers":10,"delay":"P1M","accident":false},
			{"bus-type":"BUS-104","passengers":10,"delay":"P1Y","accident":false}
		]`)
	}))

	batch, err := client.Fetch(context.Background(), transit.City{ID: 2, Name: "Brno", Country: "CZ"}, testDate)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(batch.Records) != 5 {
		t.Fatalf("records = %d, want 5", len(batch.Records))
	}

	if d := batch.Records[0].Delay; d.Seconds == nil || *d.Seconds != 1200 {
		t.Errorf("Records[0].Delay = %+v, want 1200s", d)
	}
	for i, want := range []string{"P", "PT", "P1M", "P1Y"} {
		d := batch.Records[i+1].Delay
		if d.IsNumeric() || d.Raw == nil || *d.Raw != want {
			t.Errorf("Records[%d].Delay = %+v, want raw %q", i+1, d, want)
		}
	}
}

func TestClient_Fetch(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cities/7/stats" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("date")
		fmt.Fprint(w, `[
			{"departure-time":"2023-10-01T08:15:00","bus-type":"BUS-100","passengers":12,"delay":"PT10M","accident":false},
			{"bus-type":"BUS-101","passengers":30,"delay":"invalid","accident":1},
			{"bus-type":"BUS-102","passengers":5,"delay":"","accident":0},
			{"bus-type":"","passengers":5,"delay":"PT1M","accident":false},
			{"bus-type":"BUS-103","passengers":-1,"delay":"PT1M","accident":false},
			{"bus-type":"BUS-104","passengers":3,"delay":"PT1M"}
		]`)
	}))

	batch, err := client.Fetch(context.Background(), transit.City{ID: 7, Name: "Brno", Country: "CZ"}, testDate)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if gotQuery != "2023-10-01T00:00:00" {
		t.Errorf("date query = %q, want 2023-10-01T00:00:00", gotQuery)
	}
	if len(batch.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(batch.Records))
	}
	if len(batch.Rejected) != 3 {
		t.Fatalf("rejected = %d, want 3", len(batch.Rejected))
	}

	first := batch.Records[0]
	if first.Delay.Seconds == nil || *first.Delay.Seconds != 600 {
		t.Errorf("first delay = %+v, want 600s", first.Delay)
	}
	if first.DepartureTime == nil || first.DepartureTime.Hour() != 8 {
		t.Errorf("first departure = %v, want 08:15", first.DepartureTime)
	}
	if second := batch.Records[1]; second.Delay.Raw == nil || *second.Delay.Raw != "invalid" || !second.Accident {
		t.Errorf("second record = %+v, want raw delay and accident", second)
	}
	if third := batch.Records[2]; third.Delay.Raw == nil || *third.Delay.Raw != "" {
		t.Errorf("third delay = %+v, want raw empty string", third.Delay)
	}

	fields := []string{"bus-type", "passengers", "accident"}
	for i, rejected := range batch.Rejected {
		if rejected.Field != fields[i] {
			t.Errorf("rejected[%d].Field = %q, want %q", i, rejected.Field, fields[i])
		}
	}
}

func TestClient_FetchEmpty(t *testing.T) {
	for _, body := range []string{`[]`, `null`} {
		t.Run(body, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			batch, err := client.Fetch(context.Background(), transit.City{ID: 1, Name: "Prague", Country: "CZ"}, testDate)
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if len(batch.Records) != 0 || len(batch.Rejected) != 0 {
				t.Errorf("Fetch() = %+v, want empty batch", batch)
			}
		})
	}
}

func TestClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "server error",
			handler:    func(w http.ResponseWriter, r *http.Request) { http.Error(w, "down", http.StatusInternalServerError) },
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "not found",
			handler:    func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed body",
			handler:    func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"not":"an array"`) },
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.handler)
			_, err := client.Fetch(context.Background(), transit.City{ID: 3, Name: "Ostrava", Country: "CZ"}, testDate)

			var fetchErr *apperrors.FetchError
			if !errors.As(err, &fetchErr) {
				t.Fatalf("Fetch() error = %v, want *FetchError", err)
			}
			if fetchErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", fetchErr.StatusCode, tt.wantStatus)
			}
			if fetchErr.City != "Ostrava:3" {
				t.Errorf("City = %q, want Ostrava:3", fetchErr.City)
			}
		})
	}
}

func TestClient_FetchCancelled(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, transit.City{ID: 1, Name: "Prague", Country: "CZ"}, testDate)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch() error = %v, want deadline exceeded", err)
	}
}

func TestClient_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 1, Burst: 1}, discardLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	city := transit.City{ID: 1, Name: "Prague", Country: "CZ"}

	if _, err := client.Fetch(ctx, city, testDate); err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	if _, err := client.Fetch(ctx, city, testDate); err == nil {
		t.Error("second Fetch() within the same second should be rate limited")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestClient_ConnectionLost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	client, err := NewClient(Config{BaseURL: baseURL, Timeout: time.Second}, discardLogger(), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.Cities(context.Background())
	if !errors.Is(err, apperrors.ErrConnectionLost) {
		t.Errorf("Cities() error = %v, want %v", err, apperrors.ErrConnectionLost)
	}
	if !apperrors.IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = false, want true", err)
	}
}
