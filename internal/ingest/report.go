package ingest

import (
	"sync"
	"time"

	"github.com/petrsynek/bus-server/pkg/transit"
)

// TaskStatus is the outcome of one city's ingestion task.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// RunStatus is the state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// TaskResult is the outcome of fetching, encoding and writing one city partition.
type TaskResult struct {
	RunID       string        `json:"run_id"`
	Date        string        `json:"date"`
	City        transit.City  `json:"city"`
	Status      TaskStatus    `json:"status"`
	Records     int           `json:"records"`
	Quarantined int           `json:"quarantined"`
	Bytes       int           `json:"bytes"`
	Stage       string        `json:"stage,omitempty"`
	Error       string        `json:"error,omitempty"`
	Retryable   bool          `json:"retryable,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"-"`
	DurationMS  int64         `json:"duration_ms"`
	Err         error         `json:"-"`
}

// Report is a point-in-time view of an ingestion run.
type Report struct {
	RunID      string       `json:"run_id"`
	Date       string       `json:"date"`
	Status     RunStatus    `json:"status"`
	Cities     int          `json:"cities"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Tasks      []TaskResult `json:"tasks"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Ack acknowledges an accepted ingestion request.
type Ack struct {
	RunID  string `json:"run_id"`
	Date   string `json:"processing"`
	Cities int    `json:"cities"`
}

// run collects task results while an ingestion run progresses.
type run struct {
	mu     sync.Mutex
	report Report
	done   chan struct{}
}

func newRun(id string, date time.Time, cities int) *run {
	return &run{
		report: Report{
			RunID:     id,
			Date:      transit.FormatDate(date),
			Status:    RunRunning,
			Cities:    cities,
			Tasks:     make([]TaskResult, 0, cities),
			StartedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
}

func (r *run) record(res TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Tasks = append(r.report.Tasks, res)
	if res.Status == TaskSucceeded {
		r.report.Succeeded++
	} else {
		r.report.Failed++
	}
}

func (r *run) finish() {
	r.mu.Lock()
	now := time.Now().UTC()
	r.report.Status = RunCompleted
	r.report.FinishedAt = &now
	r.mu.Unlock()
	close(r.done)
}

func (r *run) completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// snapshot returns a copy that is safe to use after the lock is released.
func (r *run) snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.report
	out.Tasks = append([]TaskResult(nil), r.report.Tasks...)
	return out
}

// reportStore keeps the most recent runs, evicting the oldest completed ones.
type reportStore struct {
	mu    sync.RWMutex
	limit int
	runs  map[string]*run
	order []string
}

func newReportStore(limit int) *reportStore {
	if limit < 1 {
		limit = 1
	}
	return &reportStore{
		limit: limit,
		runs:  make(map[string]*run),
	}
}

func (s *reportStore) add(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[r.report.RunID] = r
	s.order = append(s.order, r.report.RunID)

	for i := 0; len(s.runs) > s.limit && i < len(s.order); {
		id := s.order[i]
		if !s.runs[id].completed() {
			i++
			continue
		}
		delete(s.runs, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

func (s *reportStore) get(id string) (*run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}
