package models

import (
	"sync"

	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// RunStatus represents the status of a simulation run
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusDeadlocked RunStatus = "deadlocked"
	RunStatusTimeLimit  RunStatus = "time_limit"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// IsTerminal reports whether a run in this status can no longer change.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusDeadlocked, RunStatusTimeLimit, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunInput is what a client submits to execute a scenario.
type RunInput struct {
	ScenarioYAML   string  `json:"scenario_yaml"`
	ConfigYAML     string  `json:"config_yaml,omitempty"`
	MaxDate        float64 `json:"max_date,omitempty"`
	CallbackURL    string  `json:"callback_url,omitempty"`
	CallbackSecret string  `json:"callback_secret,omitempty"`
}

// Run represents a simulation run
type Run struct {
	ID              string    `json:"id"`
	Status          RunStatus `json:"status"`
	CreatedAtUnixMs int64     `json:"created_at_unix_ms"`
	StartedAtUnixMs int64     `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64     `json:"ended_at_unix_ms,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// ActivityRecord is the terminal snapshot of one activity.
type ActivityRecord struct {
	Name       string  `json:"name" yaml:"name"`
	Kind       string  `json:"kind" yaml:"kind"`
	Actor      string  `json:"actor,omitempty" yaml:"actor,omitempty"`
	State      string  `json:"state" yaml:"state"`
	StartTime  float64 `json:"start_time" yaml:"start_time"`
	FinishTime float64 `json:"finish_time" yaml:"finish_time"`
	Remaining  float64 `json:"remaining" yaml:"remaining"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunResult is the outcome of a simulation.
type RunResult struct {
	Status         RunStatus        `json:"status"`
	FinalClock     float64          `json:"final_clock"`
	ActorsCreated  int              `json:"actors_created"`
	ActorsFailed   int              `json:"actors_failed"`
	ActorsAlive    []string         `json:"actors_alive,omitempty"`
	Activities     []ActivityRecord `json:"activities,omitempty"`
	CompletionTime utils.Summary    `json:"completion_time"`
}

// ResultRecorder accumulates activity records from observer callbacks. Reads may
// come from the daemon while the simulation still runs.
type ResultRecorder struct {
	mu      sync.Mutex
	records []ActivityRecord
}

// Add appends a record.
func (r *ResultRecorder) Add(rec ActivityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of the records in arrival order.
func (r *ResultRecorder) Records() []ActivityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityRecord, len(r.records))
	copy(out, r.records)
	return out
}

// FinishDates returns the finish dates of finished activities.
func (r *ResultRecorder) FinishDates() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dates []float64
	for _, rec := range r.records {
		if rec.State == "FINISHED" {
			dates = append(dates, rec.FinishTime)
		}
	}
	return dates
}
