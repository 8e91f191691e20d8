package engine

import (
	"context"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

// RunManager tracks the lifecycle of a run and its counters. The engine
// goroutine writes; the daemon reads progress from other goroutines.
type RunManager struct {
	runID     string
	status    models.RunStatus
	startTime time.Time
	endTime   time.Time
	clock     float64

	actorsCreated      int64
	actorsFailed       int64
	actorsEnded        int64
	activitiesStarted  int64
	activitiesFinished int64
	activitiesFailed   int64
	activitiesCanceled int64

	mu     sync.RWMutex
	cancel context.CancelFunc
}

// NewRunManager creates a new run manager
func NewRunManager(runID string) *RunManager {
	return &RunManager{
		runID:  runID,
		status: models.RunStatusPending,
	}
}

// Start marks the run as running and returns a context canceled by Cancel.
func (rm *RunManager) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.status = models.RunStatusRunning
	rm.startTime = time.Now()
	rm.cancel = cancel
	return ctx
}

func (rm *RunManager) release() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
}

// Finish records the outcome of the run.
func (rm *RunManager) Finish(status Status, clock float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.status = RunStatusOf(status)
	rm.endTime = time.Now()
	rm.clock = clock
}

// Cancel cancels the run
func (rm *RunManager) Cancel() {
	rm.mu.RLock()
	cancel := rm.cancel
	rm.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Status returns the current run status.
func (rm *RunManager) Status() models.RunStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.status
}

// SetClock records the simulated date reached.
func (rm *RunManager) SetClock(clock float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.clock = clock
}

func (rm *RunManager) actorCreated() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.actorsCreated++
}

func (rm *RunManager) actorTerminated(failed bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.actorsEnded++
	if failed {
		rm.actorsFailed++
	}
}

func (rm *RunManager) activityStarted() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.activitiesStarted++
}

func (rm *RunManager) activityCompleted(state activity.State) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	switch state {
	case activity.Finished:
		rm.activitiesFinished++
	case activity.Failed:
		rm.activitiesFailed++
	case activity.Canceled:
		rm.activitiesCanceled++
	}
}

// ActorCounts returns the number of actors created and of those that failed.
func (rm *RunManager) ActorCounts() (created, failed int) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return int(rm.actorsCreated), int(rm.actorsFailed)
}

// GetStats returns current run statistics
func (rm *RunManager) GetStats() map[string]interface{} {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	elapsed := time.Duration(0)
	if !rm.startTime.IsZero() {
		end := rm.endTime
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = end.Sub(rm.startTime)
	}

	return map[string]interface{}{
		"run_id":              rm.runID,
		"status":              rm.status,
		"elapsed":             elapsed.String(),
		"clock":               rm.clock,
		"actors_created":      rm.actorsCreated,
		"actors_alive":        rm.actorsCreated - rm.actorsEnded,
		"actors_failed":       rm.actorsFailed,
		"activities_started":  rm.activitiesStarted,
		"activities_finished": rm.activitiesFinished,
		"activities_failed":   rm.activitiesFailed,
		"activities_canceled": rm.activitiesCanceled,
	}
}

// RunStatusOf maps an engine status to the run status reported by the
// daemon.
func RunStatusOf(s Status) models.RunStatus {
	switch s {
	case StatusCompleted:
		return models.RunStatusCompleted
	case StatusDeadlock:
		return models.RunStatusDeadlocked
	case StatusTimeLimit:
		return models.RunStatusTimeLimit
	case StatusCanceled:
		return models.RunStatusCancelled
	default:
		return models.RunStatusFailed
	}
}
