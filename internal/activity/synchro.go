package activity

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Synchro is an activity that uses no resource and finishes when a
// synchronization object grants it: a lock acquisition, a semaphore
// acquisition, a barrier or condition variable wait.
type Synchro struct {
	Base
	holder   any
	serial   bool
	onCancel func()
}

func (c *Context) newSynchro(name string, holder any) *Synchro {
	s := &Synchro{holder: holder}
	s.init(c, s, s, KindSynchro)
	s.name = fmt.Sprintf("%s-%d", name, s.id)
	s.state = Started
	s.startTime = c.Now()
	for _, fn := range c.started {
		fn(s)
	}
	return s
}

// Holder returns the value that requested the synchronization.
func (s *Synchro) Holder() any { return s.holder }

// Serial reports whether the synchro was the last arrival of its barrier
// round.
func (s *Synchro) Serial() bool { return s.serial }

func (s *Synchro) grant()             { s.complete(Finished, nil) }
func (s *Synchro) ready() bool        { return true }
func (s *Synchro) launch() error      { return nil }
func (s *Synchro) remaining() float64 { return 0 }
func (s *Synchro) suspend()           {}
func (s *Synchro) resume()            {}

func (s *Synchro) abort() {
	if s.onCancel != nil {
		s.onCancel()
		s.onCancel = nil
	}
}

func removeSynchro(queue []*Synchro, s *Synchro) []*Synchro {
	if i := slices.Index(queue, s); i >= 0 {
		return slices.Delete(queue, i, i+1)
	}
	return queue
}

// Mutex is a lock granted in request order.
type Mutex struct {
	ctx    *Context
	name   string
	locked bool
	owner  any
	queue  []*Synchro
}

// NewMutex creates an unlocked mutex.
func (c *Context) NewMutex(name string) *Mutex {
	return &Mutex{ctx: c, name: name}
}

func (m *Mutex) Name() string   { return m.name }
func (m *Mutex) IsLocked() bool { return m.locked }
func (m *Mutex) Owner() any     { return m.owner }

// Lock requests the mutex for owner. The returned synchro finishes when owner
// holds the mutex, right away when it is free.
func (m *Mutex) Lock(owner any) *Synchro {
	s := m.ctx.newSynchro("lock:"+m.name, owner)
	if !m.locked {
		m.locked = true
		m.owner = owner
		s.grant()
		return s
	}
	s.onCancel = func() { m.queue = removeSynchro(m.queue, s) }
	m.queue = append(m.queue, s)
	return s
}

// TryLock takes the mutex if it is free.
func (m *Mutex) TryLock(owner any) bool {
	if m.locked {
		return false
	}
	m.locked = true
	m.owner = owner
	return true
}

// Unlock releases the mutex held by owner and hands it to the oldest
// pending request.
func (m *Mutex) Unlock(owner any) error {
	if !m.locked || m.owner != owner {
		return fmt.Errorf("%w: mutex %s is not held by the caller", ErrInvalidState, m.name)
	}
	if len(m.queue) == 0 {
		m.locked = false
		m.owner = nil
		return nil
	}
	next := m.queue[0]
	m.queue = slices.Delete(m.queue, 0, 1)
	next.onCancel = nil
	m.owner = next.holder
	next.grant()
	return nil
}

// Semaphore is a counting semaphore granted in request order.
type Semaphore struct {
	ctx   *Context
	name  string
	value int
	queue []*Synchro
}

// NewSemaphore creates a semaphore with capacity free slots.
func (c *Context) NewSemaphore(name string, capacity int) *Semaphore {
	return &Semaphore{ctx: c, name: name, value: capacity}
}

func (s *Semaphore) Name() string { return s.name }

// Value returns the number of free slots.
func (s *Semaphore) Value() int { return s.value }

// WouldBlock reports whether an acquisition would wait.
func (s *Semaphore) WouldBlock() bool { return s.value <= 0 }

// Acquire requests a slot. The returned synchro finishes when the slot is
// granted.
func (s *Semaphore) Acquire(holder any) *Synchro {
	sy := s.ctx.newSynchro("acquire:"+s.name, holder)
	if s.value > 0 {
		s.value--
		sy.grant()
		return sy
	}
	sy.onCancel = func() { s.queue = removeSynchro(s.queue, sy) }
	s.queue = append(s.queue, sy)
	return sy
}

// TryAcquire takes a slot if one is free.
func (s *Semaphore) TryAcquire() bool {
	if s.value <= 0 {
		return false
	}
	s.value--
	return true
}

// Release frees a slot, handing it to the oldest pending acquisition.
func (s *Semaphore) Release() {
	if len(s.queue) == 0 {
		s.value++
		return
	}
	next := s.queue[0]
	s.queue = slices.Delete(s.queue, 0, 1)
	next.onCancel = nil
	next.grant()
}

// Barrier releases its waiters once count of them arrived, then resets.
type Barrier struct {
	ctx     *Context
	name    string
	count   int
	arrived []*Synchro
}

// NewBarrier creates a barrier for count participants.
func (c *Context) NewBarrier(name string, count int) *Barrier {
	return &Barrier{ctx: c, name: name, count: count}
}

func (b *Barrier) Name() string { return b.name }
func (b *Barrier) Count() int   { return b.count }

// Waiting returns the number of participants already arrived in the current
// round.
func (b *Barrier) Waiting() int { return len(b.arrived) }

// Wait registers an arrival. The last arrival of a round gets a synchro
// marked Serial; every synchro of the round finishes at that moment.
func (b *Barrier) Wait(holder any) *Synchro {
	s := b.ctx.newSynchro("barrier:"+b.name, holder)
	s.onCancel = func() { b.arrived = removeSynchro(b.arrived, s) }
	b.arrived = append(b.arrived, s)
	if len(b.arrived) < b.count {
		return s
	}
	round := b.arrived
	b.arrived = nil
	s.serial = true
	for _, w := range round {
		w.onCancel = nil
		w.grant()
	}
	return s
}

// CondVar is a condition variable used together with a Mutex.
type CondVar struct {
	ctx   *Context
	name  string
	queue []*Synchro
}

// NewCondVar creates a condition variable.
func (c *Context) NewCondVar(name string) *CondVar {
	return &CondVar{ctx: c, name: name}
}

func (cv *CondVar) Name() string { return cv.name }

// Waiting returns the number of pending waits.
func (cv *CondVar) Waiting() int { return len(cv.queue) }

// Wait releases m, held by holder, and returns a synchro finishing on the
// next notification. The caller reacquires m afterwards.
func (cv *CondVar) Wait(holder any, m *Mutex) (*Synchro, error) {
	if err := m.Unlock(holder); err != nil {
		return nil, err
	}
	s := cv.ctx.newSynchro("cond:"+cv.name, holder)
	s.onCancel = func() { cv.queue = removeSynchro(cv.queue, s) }
	cv.queue = append(cv.queue, s)
	return s, nil
}

// NotifyOne wakes the oldest waiter.
func (cv *CondVar) NotifyOne() {
	if len(cv.queue) == 0 {
		return
	}
	next := cv.queue[0]
	cv.queue = slices.Delete(cv.queue, 0, 1)
	next.onCancel = nil
	next.grant()
}

// NotifyAll wakes every waiter.
func (cv *CondVar) NotifyAll() {
	waiters := cv.queue
	cv.queue = nil
	for _, w := range waiters {
		w.onCancel = nil
		w.grant()
	}
}
