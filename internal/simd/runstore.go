package simd

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/simkernel/internal/metrics"
	"github.com/GoSim-25-26J-441/simkernel/internal/trace"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// RunRecord is what the daemon knows about one run. Records handed out by the
// store are snapshots; the store keeps its own copy.
type RunRecord struct {
	Run    models.Run
	Input  models.RunInput
	Result *models.RunResult
	Trace  *trace.Trace

	collector *metrics.Collector
	recorder  *trace.Recorder
}

// Collector returns the time series of the run, nil before it started.
func (r *RunRecord) Collector() *metrics.Collector { return r.collector }

// CurrentTrace returns the final trace of a finished run, or what has been
// recorded so far while it runs.
func (r *RunRecord) CurrentTrace() *trace.Trace {
	if r.Trace != nil {
		return r.Trace
	}
	if r.recorder != nil {
		return r.recorder.Snapshot()
	}
	return nil
}

type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]*RunRecord
	order []string
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*RunRecord),
	}
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Create registers a pending run. An empty runID gets a generated one.
func (s *RunStore) Create(runID string, input models.RunInput) (*RunRecord, error) {
	if strings.ContainsAny(runID, "/:?#") {
		return nil, fmt.Errorf("%w: run id cannot contain '/', ':', '?' or '#'", ErrInvalidInput)
	}
	if strings.TrimSpace(input.ScenarioYAML) == "" {
		return nil, fmt.Errorf("%w: scenario_yaml is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = utils.GenerateRunID()
	}
	if _, exists := s.runs[runID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, runID)
	}

	rec := &RunRecord{
		Run: models.Run{
			ID:              runID,
			Status:          models.RunStatusPending,
			CreatedAtUnixMs: nowUnixMs(),
		},
		Input: input,
	}
	s.runs[runID] = rec
	s.order = append(s.order, runID)
	return rec.snapshot(), nil
}

func (r *RunRecord) snapshot() *RunRecord {
	cp := *r
	return &cp
}

func (s *RunStore) Get(runID string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	return rec.snapshot(), true
}

// Len returns the number of runs stored.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// List returns up to limit runs in creation order.
func (s *RunStore) List(limit int) []*RunRecord {
	return s.ListFiltered(limit, 0, "")
}

// ListFiltered returns runs in creation order, skipping offset matches. An
// empty status matches every run.
func (s *RunStore) ListFiltered(limit, offset int, status models.RunStatus) []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]*RunRecord, 0, minInt(limit, len(s.runs)))
	skipped := 0
	for _, id := range s.order {
		rec := s.runs[id]
		if status != "" && rec.Run.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, rec.snapshot())
		if len(out) >= limit {
			break
		}
	}
	return out
}

// SetStatus moves a run to status. Terminal runs keep their status.
func (s *RunStore) SetStatus(runID string, status models.RunStatus, errMsg string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rec.Run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, runID, rec.Run.Status)
	}

	rec.Run.Status = status
	if errMsg != "" {
		rec.Run.Error = errMsg
	}

	switch {
	case status == models.RunStatusRunning:
		if rec.Run.StartedAtUnixMs == 0 {
			rec.Run.StartedAtUnixMs = nowUnixMs()
		}
	case status.IsTerminal():
		rec.Run.EndedAtUnixMs = nowUnixMs()
	}

	return rec.snapshot(), nil
}

// SetResult stores the outcome of a run.
func (s *RunStore) SetResult(runID string, result *models.RunResult, tr *trace.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.Result = result
	rec.Trace = tr
	return nil
}

// SetObservers attaches the live metrics collector and trace recorder of a
// started run.
func (s *RunStore) SetObservers(runID string, collector *metrics.Collector, recorder *trace.Recorder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rec.collector = collector
	rec.recorder = recorder
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
