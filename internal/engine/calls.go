package engine

import (
	"errors"
	"fmt"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/internal/platform"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
)

// ExecOption tunes an execution before it starts.
type ExecOption func(*activity.Exec)

// WithBound caps the execution speed in flops/s.
func WithBound(bound float64) ExecOption {
	return func(e *activity.Exec) { e.SetBound(bound) }
}

// WithPriority gives the execution a larger share of its host.
func WithPriority(p float64) ExecOption {
	return func(e *activity.Exec) { e.SetPriority(p) }
}

// start launches act. An activity that cannot be started (missing resources,
// unsolved dependencies) is failed with the Start error, which is returned.
// Launch failures already end the activity and are reported by Wait.
func start(act activity.Activity) error {
	err := act.Start()
	if err == nil || act.State().Terminal() {
		return nil
	}
	_ = act.Fail(err)
	return err
}

func (a *Actor) newExec(flops float64, opts []ExecOption) *activity.Exec {
	exec := a.e.ctx.NewExec(a.host, flops)
	for _, opt := range opts {
		opt(exec)
	}
	a.e.own(a, exec)
	return exec
}

// ExecuteAsync starts a computation of flops on the actor's host and returns
// without waiting for it. Start errors are reported through the activity.
func (a *Actor) ExecuteAsync(flops float64, opts ...ExecOption) *activity.Exec {
	exec := a.newExec(flops, opts)
	_ = start(exec)
	return exec
}

// Execute computes flops on the actor's host.
func (a *Actor) Execute(flops float64, opts ...ExecOption) error {
	exec := a.newExec(flops, opts)
	if err := start(exec); err != nil {
		return err
	}
	return a.Wait(exec)
}

func (a *Actor) newParallelExec(hosts []*platform.Host, flops, bytes []float64) *activity.Exec {
	exec := a.e.ctx.NewParallelExec(hosts, flops, bytes)
	a.e.own(a, exec)
	return exec
}

// ParallelExecuteAsync starts a parallel task: flops[i] on hosts[i] and
// bytes[i*len(hosts)+j] sent from hosts[i] to hosts[j].
func (a *Actor) ParallelExecuteAsync(hosts []*platform.Host, flops, bytes []float64) *activity.Exec {
	exec := a.newParallelExec(hosts, flops, bytes)
	_ = start(exec)
	return exec
}

// ParallelExecute runs a parallel task and waits for it. It fails with
// ErrNotReady when no host is given.
func (a *Actor) ParallelExecute(hosts []*platform.Host, flops, bytes []float64) error {
	exec := a.newParallelExec(hosts, flops, bytes)
	if err := start(exec); err != nil {
		return err
	}
	return a.Wait(exec)
}

func (a *Actor) put(mailbox string, size float64, payload any, opts []activity.SendOption) *activity.Comm {
	opts = append([]activity.SendOption{activity.WithPayload(payload)}, opts...)
	c := a.e.ctx.Mailbox(mailbox).Put(a.host, size, opts...)
	if !c.IsDetached() {
		a.e.own(a, c)
	}
	return c
}

// Send posts size bytes carrying payload on mailbox and waits until the
// transfer to the receiver completed.
func (a *Actor) Send(mailbox string, size float64, payload any, opts ...activity.SendOption) error {
	return a.SendFor(mailbox, size, payload, -1, opts...)
}

// SendFor is Send giving up after timeout seconds. The send is withdrawn on
// timeout, along with the transfer if it already started.
func (a *Actor) SendFor(mailbox string, size float64, payload any, timeout float64, opts ...activity.SendOption) error {
	_, err := a.simcall("send", func() {
		c := a.put(mailbox, size, payload, opts)
		a.e.await(a, &waiter{
			acts:      []activity.Activity{c},
			onTimeout: func() { _ = c.Cancel() },
		}, timeout)
	})
	return err
}

// SendAsync posts a send and returns its communication.
func (a *Actor) SendAsync(mailbox string, size float64, payload any, opts ...activity.SendOption) *activity.Comm {
	v, _ := a.simcall("send_async", func() {
		a.e.answer(a, a.put(mailbox, size, payload, opts), nil)
	})
	c, _ := v.(*activity.Comm)
	return c
}

// SendDetached posts a send nobody waits for. Killing the sender does not
// cancel it.
func (a *Actor) SendDetached(mailbox string, size float64, payload any, opts ...activity.SendOption) {
	_, _ = a.simcall("send_detached", func() {
		a.put(mailbox, size, payload, append(opts, activity.Detached()))
		a.e.answer(a, nil, nil)
	})
}

func (a *Actor) get(mailbox string) *activity.Comm {
	c := a.e.ctx.Mailbox(mailbox).Get(a.host)
	a.e.own(a, c)
	return c
}

// Recv waits for a message on mailbox and returns its payload once the
// transfer completed.
func (a *Actor) Recv(mailbox string) (any, error) {
	return a.RecvFor(mailbox, -1)
}

// RecvFor is Recv giving up after timeout seconds. The pending receive is
// withdrawn on timeout.
func (a *Actor) RecvFor(mailbox string, timeout float64) (any, error) {
	return a.simcall("recv", func() {
		c := a.get(mailbox)
		a.e.await(a, &waiter{
			acts: []activity.Activity{c},
			result: func(activity.Activity) (any, error) {
				if err := outcome(c); err != nil {
					return nil, err
				}
				return c.Payload(), nil
			},
			onTimeout: func() { _ = c.Cancel() },
		}, timeout)
	})
}

// RecvAsync posts a receive and returns its communication; the payload is
// available from the comm once it finished.
func (a *Actor) RecvAsync(mailbox string) *activity.Comm {
	v, _ := a.simcall("recv_async", func() {
		a.e.answer(a, a.get(mailbox), nil)
	})
	c, _ := v.(*activity.Comm)
	return c
}

// IoAsync starts a disk access on a disk of the actor's host.
func (a *Actor) IoAsync(disk string, op resource.IoOp, size float64) (*activity.Io, error) {
	d, ok := a.host.Disk(disk)
	if !ok {
		return nil, fmt.Errorf("%w: host %s has no disk %s", ErrNotReady, a.host.Name(), disk)
	}
	io := a.e.ctx.NewIo(d, op, size)
	a.e.own(a, io)
	if err := start(io); err != nil {
		return nil, err
	}
	return io, nil
}

// Read reads size bytes from a disk of the actor's host.
func (a *Actor) Read(disk string, size float64) error {
	io, err := a.IoAsync(disk, resource.IoRead, size)
	if err != nil {
		return err
	}
	return a.Wait(io)
}

// Write writes size bytes to a disk of the actor's host.
func (a *Actor) Write(disk string, size float64) error {
	io, err := a.IoAsync(disk, resource.IoWrite, size)
	if err != nil {
		return err
	}
	return a.Wait(io)
}

// Sleep blocks for duration simulated seconds.
func (a *Actor) Sleep(duration float64) {
	s := a.e.ctx.NewSleep(duration)
	a.e.own(a, s)
	_ = start(s)
	_ = a.Wait(s)
}

// SleepUntil blocks until date. It returns right away when date is past.
func (a *Actor) SleepUntil(date float64) {
	if d := date - a.Now(); d > 0 {
		a.Sleep(d)
	}
}

// Lock blocks until the actor holds m.
func (a *Actor) Lock(m *activity.Mutex) error {
	_, err := a.simcall("lock", func() {
		s := m.Lock(a)
		a.e.own(a, s)
		a.e.await(a, &waiter{acts: []activity.Activity{s}}, -1)
	})
	return err
}

// TryLock takes m if it is free.
func (a *Actor) TryLock(m *activity.Mutex) bool {
	v, _ := a.simcall("try_lock", func() {
		a.e.answer(a, m.TryLock(a), nil)
	})
	ok, _ := v.(bool)
	return ok
}

// Unlock releases m, which the actor must hold.
func (a *Actor) Unlock(m *activity.Mutex) error {
	_, err := a.simcall("unlock", func() {
		a.e.answer(a, nil, m.Unlock(a))
	})
	return err
}

// Acquire blocks until a slot of s is granted.
func (a *Actor) Acquire(s *activity.Semaphore) error {
	return a.AcquireTimeout(s, -1)
}

// AcquireTimeout is Acquire giving up after timeout seconds with ErrTimeout.
func (a *Actor) AcquireTimeout(s *activity.Semaphore, timeout float64) error {
	_, err := a.simcall("acquire", func() {
		sy := s.Acquire(a)
		a.e.own(a, sy)
		a.e.await(a, &waiter{
			acts:      []activity.Activity{sy},
			onTimeout: func() { _ = sy.Cancel() },
		}, timeout)
	})
	return err
}

// Release frees a slot of s.
func (a *Actor) Release(s *activity.Semaphore) {
	_, _ = a.simcall("release", func() {
		s.Release()
		a.e.answer(a, nil, nil)
	})
}

// BarrierWait blocks until every participant of b arrived. It reports true
// to the last arrival.
func (a *Actor) BarrierWait(b *activity.Barrier) (bool, error) {
	v, err := a.simcall("barrier", func() {
		s := b.Wait(a)
		a.e.own(a, s)
		a.e.await(a, &waiter{
			acts: []activity.Activity{s},
			result: func(activity.Activity) (any, error) {
				return s.Serial(), outcome(s)
			},
		}, -1)
	})
	serial, _ := v.(bool)
	return serial, err
}

// CondWait releases m, waits for a notification on cv and takes m again.
func (a *Actor) CondWait(cv *activity.CondVar, m *activity.Mutex) error {
	return a.CondWaitFor(cv, m, -1)
}

// CondWaitFor is CondWait giving up after timeout seconds. m is held again
// when it returns, including on ErrTimeout.
func (a *Actor) CondWaitFor(cv *activity.CondVar, m *activity.Mutex, timeout float64) error {
	_, err := a.simcall("cond_wait", func() {
		s, err := cv.Wait(a, m)
		if err != nil {
			a.e.answer(a, nil, err)
			return
		}
		a.e.own(a, s)
		a.e.await(a, &waiter{
			acts:      []activity.Activity{s},
			onTimeout: func() { _ = s.Cancel() },
		}, timeout)
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		return err
	}
	if lockErr := a.Lock(m); lockErr != nil {
		return lockErr
	}
	return err
}

// NotifyOne wakes the oldest waiter of cv.
func (a *Actor) NotifyOne(cv *activity.CondVar) {
	_, _ = a.simcall("notify_one", func() {
		cv.NotifyOne()
		a.e.answer(a, nil, nil)
	})
}

// NotifyAll wakes every waiter of cv.
func (a *Actor) NotifyAll(cv *activity.CondVar) {
	_, _ = a.simcall("notify_all", func() {
		cv.NotifyAll()
		a.e.answer(a, nil, nil)
	})
}
