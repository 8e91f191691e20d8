package profile

import (
	"container/heap"
	"sync"
)

// Event is the pending occurrence of a profile on one target resource.
type Event struct {
	profile *Profile
	target  any

	date    float64
	current float64
	seq     uint64
	index   int

	idx     int
	cycle   int
	emitted int
	delay   Sampler
	value   Sampler

	done bool
}

// Date returns the simulated date of the pending occurrence.
func (e *Event) Date() float64 { return e.date }

// Target returns the resource the profile applies to.
func (e *Event) Target() any { return e.target }

// Profile returns the profile that produced the event.
func (e *Event) Profile() *Profile { return e.profile }

// Done reports whether the profile has no further occurrence.
func (e *Event) Done() bool { return e.done }

// Unschedule stops future occurrences of the event.
func (e *Event) Unschedule() { e.done = true }

// FutureEventSet is a priority queue of profile events ordered by date, then
// by insertion order.
type FutureEventSet struct {
	events []*Event
	seq    uint64
	mu     sync.RWMutex
}

// NewFutureEventSet creates an empty future event set
func NewFutureEventSet() *FutureEventSet {
	fes := &FutureEventSet{
		events: make([]*Event, 0),
	}
	heap.Init(fes)
	return fes
}

// Len returns the number of events in the queue
func (fes *FutureEventSet) Len() int {
	return len(fes.events)
}

// Less compares two events by date, then insertion order
func (fes *FutureEventSet) Less(i, j int) bool {
	a, b := fes.events[i], fes.events[j]
	if a.date != b.date {
		return a.date < b.date
	}
	return a.seq < b.seq
}

// Swap swaps two events in the queue
func (fes *FutureEventSet) Swap(i, j int) {
	fes.events[i], fes.events[j] = fes.events[j], fes.events[i]
	fes.events[i].index = i
	fes.events[j].index = j
}

// Push adds an event to the queue
func (fes *FutureEventSet) Push(x interface{}) {
	ev := x.(*Event)
	ev.index = len(fes.events)
	fes.events = append(fes.events, ev)
}

// Pop removes and returns the last event of the underlying slice
func (fes *FutureEventSet) Pop() interface{} {
	old := fes.events
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil // avoid memory leak
	ev.index = -1
	fes.events = old[0 : n-1]
	return ev
}

func (fes *FutureEventSet) push(ev *Event) {
	fes.mu.Lock()
	defer fes.mu.Unlock()
	fes.seq++
	ev.seq = fes.seq
	heap.Push(fes, ev)
}

// NextDate returns the date of the earliest live event, or -1 when none.
func (fes *FutureEventSet) NextDate() float64 {
	fes.mu.Lock()
	defer fes.mu.Unlock()
	fes.dropDone()
	if fes.Len() == 0 {
		return -1
	}
	return fes.events[0].date
}

// PopLeq removes the earliest event if its date is at most date, returning it
// with the value to apply. The profile's next occurrence is queued again.
func (fes *FutureEventSet) PopLeq(date float64) (*Event, float64, bool) {
	fes.mu.Lock()
	defer fes.mu.Unlock()
	fes.dropDone()
	if fes.Len() == 0 || fes.events[0].date > date {
		return nil, 0, false
	}
	ev := heap.Pop(fes).(*Event)
	value := ev.current
	if ev.profile.advance(ev) {
		fes.seq++
		ev.seq = fes.seq
		heap.Push(fes, ev)
	} else {
		ev.done = true
	}
	return ev, value, true
}

// Size returns the current queue size (thread-safe)
func (fes *FutureEventSet) Size() int {
	fes.mu.RLock()
	defer fes.mu.RUnlock()
	return fes.Len()
}

// IsEmpty returns true if the queue is empty (thread-safe)
func (fes *FutureEventSet) IsEmpty() bool {
	return fes.NextDate() < 0
}

// Clear removes all events from the queue (thread-safe)
func (fes *FutureEventSet) Clear() {
	fes.mu.Lock()
	defer fes.mu.Unlock()
	fes.events = make([]*Event, 0)
	heap.Init(fes)
}

func (fes *FutureEventSet) dropDone() {
	for fes.Len() > 0 && fes.events[0].done {
		heap.Pop(fes)
	}
}
