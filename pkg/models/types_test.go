package models

import (
	"sync"
	"testing"
)

func TestRunStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusPending, false},
		{RunStatusRunning, false},
		{RunStatusCompleted, true},
		{RunStatusDeadlocked, true},
		{RunStatusTimeLimit, true},
		{RunStatusFailed, true},
		{RunStatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestResultRecorder(t *testing.T) {
	var r ResultRecorder
	r.Add(ActivityRecord{Name: "a", State: "FINISHED", FinishTime: 1})
	r.Add(ActivityRecord{Name: "b", State: "FAILED", FinishTime: 2})

	records := r.Records()
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Name != "a" || records[1].Name != "b" {
		t.Errorf("Expected arrival order, got %v", records)
	}

	dates := r.FinishDates()
	if len(dates) != 1 || dates[0] != 1 {
		t.Errorf("Expected only finished dates, got %v", dates)
	}
}

func TestResultRecorderConcurrency(t *testing.T) {
	var r ResultRecorder
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(ActivityRecord{Name: "x"})
			_ = r.Records()
		}()
	}
	wg.Wait()
	if len(r.Records()) != 50 {
		t.Errorf("Expected 50 records, got %d", len(r.Records()))
	}
}
