package engine

import (
	"testing"
)

func TestNewTimerQueue(t *testing.T) {
	tq := NewTimerQueue()
	if tq == nil {
		t.Fatal("NewTimerQueue returned nil")
	}
	if !tq.IsEmpty() {
		t.Error("New timer queue should be empty")
	}
	if tq.NextDate() != -1 {
		t.Errorf("Expected no next date, got %f", tq.NextDate())
	}
}

func TestTimerQueueScheduleAndPop(t *testing.T) {
	tq := NewTimerQueue()

	var fired []string
	tq.Schedule(1, func() { fired = append(fired, "t1") })
	tq.Schedule(2, func() { fired = append(fired, "t2") })
	tq.Schedule(0.5, func() { fired = append(fired, "t3") })

	if tq.Size() != 3 {
		t.Errorf("Expected queue size 3, got %d", tq.Size())
	}
	if tq.NextDate() != 0.5 {
		t.Errorf("Expected next date 0.5, got %f", tq.NextDate())
	}

	for {
		timer := tq.PopDue(1)
		if timer == nil {
			break
		}
		timer.fn()
	}

	if len(fired) != 2 || fired[0] != "t3" || fired[1] != "t1" {
		t.Errorf("Expected [t3 t1], got %v", fired)
	}
	if tq.Size() != 1 {
		t.Errorf("Expected the timer at 2 to remain, got size %d", tq.Size())
	}
}

func TestTimerQueueSameDateKeepsOrder(t *testing.T) {
	tq := NewTimerQueue()

	var fired []int
	for i := 0; i < 5; i++ {
		id := i
		tq.Schedule(3, func() { fired = append(fired, id) })
	}

	for timer := tq.PopDue(3); timer != nil; timer = tq.PopDue(3) {
		timer.fn()
	}

	for i, id := range fired {
		if id != i {
			t.Fatalf("Expected timers in scheduling order, got %v", fired)
		}
	}
}

func TestTimerCancel(t *testing.T) {
	tq := NewTimerQueue()

	first := tq.Schedule(1, func() {})
	second := tq.Schedule(2, func() {})
	tq.Schedule(3, func() {})

	first.Cancel()
	if tq.NextDate() != 2 {
		t.Errorf("Expected next date 2 after cancel, got %f", tq.NextDate())
	}

	// canceling twice is harmless
	first.Cancel()
	if tq.Size() != 2 {
		t.Errorf("Expected queue size 2, got %d", tq.Size())
	}

	timer := tq.PopDue(2)
	if timer != second {
		t.Fatal("Expected the second timer to be due")
	}
	// canceling a fired timer does not touch the queue
	second.Cancel()
	if tq.Size() != 1 {
		t.Errorf("Expected queue size 1, got %d", tq.Size())
	}
}

func TestTimerQueueClear(t *testing.T) {
	tq := NewTimerQueue()

	for i := 0; i < 10; i++ {
		tq.Schedule(float64(i), func() {})
	}

	if tq.Size() != 10 {
		t.Errorf("Expected queue size 10, got %d", tq.Size())
	}

	tq.Clear()

	if !tq.IsEmpty() {
		t.Error("Queue should be empty after Clear()")
	}
	if tq.PopDue(100) != nil {
		t.Error("PopDue on empty queue should return nil")
	}
}

func TestTimerQueueConcurrency(t *testing.T) {
	tq := NewTimerQueue()
	numTimers := 100

	done := make(chan bool)
	for i := 0; i < numTimers; i++ {
		go func(id int) {
			tq.Schedule(float64(id), func() {})
			done <- true
		}(i)
	}
	for i := 0; i < numTimers; i++ {
		<-done
	}

	if tq.Size() != numTimers {
		t.Errorf("Expected queue size %d, got %d", numTimers, tq.Size())
	}

	for i := 0; i < numTimers; i++ {
		go func() {
			tq.PopDue(float64(numTimers))
			done <- true
		}()
	}
	for i := 0; i < numTimers; i++ {
		<-done
	}

	if !tq.IsEmpty() {
		t.Errorf("Queue should be empty, got size %d", tq.Size())
	}
}
