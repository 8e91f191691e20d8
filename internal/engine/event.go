package engine

import (
	"container/heap"
	"sync"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
)

// Timer is a callback scheduled at a simulated date: sleeps, wait timeouts,
// delayed actor starts and kill times.
type Timer struct {
	date     float64
	seq      int64
	fn       func()
	index    int
	queue    *TimerQueue
	canceled bool
}

// Date returns the date the timer fires at.
func (t *Timer) Date() float64 { return t.date }

// Cancel removes the timer from its queue. Canceling a fired timer is a no-op.
func (t *Timer) Cancel() {
	if t.canceled {
		return
	}
	t.canceled = true
	t.queue.remove(t)
}

// TimerQueue is a priority queue of timers ordered by date, then by
// scheduling order.
type TimerQueue struct {
	timers []*Timer
	seq    int64
	mu     sync.RWMutex
}

// NewTimerQueue creates an empty timer queue.
func NewTimerQueue() *TimerQueue {
	tq := &TimerQueue{
		timers: make([]*Timer, 0),
	}
	heap.Init(tq)
	return tq
}

// Len returns the number of timers in the queue
func (tq *TimerQueue) Len() int {
	return len(tq.timers)
}

// Less compares two timers by date and scheduling order
func (tq *TimerQueue) Less(i, j int) bool {
	if tq.timers[i].date != tq.timers[j].date {
		return tq.timers[i].date < tq.timers[j].date
	}
	return tq.timers[i].seq < tq.timers[j].seq
}

// Swap swaps two timers in the queue
func (tq *TimerQueue) Swap(i, j int) {
	tq.timers[i], tq.timers[j] = tq.timers[j], tq.timers[i]
	tq.timers[i].index = i
	tq.timers[j].index = j
}

// Push adds a timer to the queue
func (tq *TimerQueue) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(tq.timers)
	tq.timers = append(tq.timers, t)
}

// Pop removes and returns the last timer of the heap slice
func (tq *TimerQueue) Pop() interface{} {
	old := tq.timers
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // avoid memory leak
	t.index = -1
	tq.timers = old[0 : n-1]
	return t
}

// Schedule queues fn to run at date (thread-safe)
func (tq *TimerQueue) Schedule(date float64, fn func()) activity.Timer {
	return tq.schedule(date, fn)
}

func (tq *TimerQueue) schedule(date float64, fn func()) *Timer {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	tq.seq++
	t := &Timer{date: date, seq: tq.seq, fn: fn, queue: tq}
	heap.Push(tq, t)
	return t
}

func (tq *TimerQueue) remove(t *Timer) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if t.index >= 0 && t.index < len(tq.timers) && tq.timers[t.index] == t {
		heap.Remove(tq, t.index)
	}
}

// NextDate returns the date of the earliest timer, or -1 when the queue is
// empty (thread-safe)
func (tq *TimerQueue) NextDate() float64 {
	tq.mu.RLock()
	defer tq.mu.RUnlock()
	if tq.Len() == 0 {
		return -1
	}
	return tq.timers[0].date
}

// PopDue removes and returns the earliest timer if it is due at date
// (thread-safe)
func (tq *TimerQueue) PopDue(date float64) *Timer {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.Len() == 0 || tq.timers[0].date > date {
		return nil
	}
	t := heap.Pop(tq).(*Timer)
	t.canceled = true
	return t
}

// Clear removes all timers from the queue (thread-safe)
func (tq *TimerQueue) Clear() {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	for _, t := range tq.timers {
		t.index = -1
		t.canceled = true
	}
	tq.timers = make([]*Timer, 0)
	heap.Init(tq)
}

// Size returns the current queue size (thread-safe)
func (tq *TimerQueue) Size() int {
	tq.mu.RLock()
	defer tq.mu.RUnlock()
	return tq.Len()
}

// IsEmpty returns true if the queue is empty (thread-safe)
func (tq *TimerQueue) IsEmpty() bool {
	return tq.Size() == 0
}
