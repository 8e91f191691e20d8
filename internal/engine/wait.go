package engine

import (
	"fmt"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
)

type waitMode int

const (
	waitOne waitMode = iota
	waitAny
	waitAll
)

// waiter is an actor blocked on activities.
type waiter struct {
	e     *Engine
	actor *Actor
	acts  []activity.Activity
	mode  waitMode
	// result builds the answer of a waitOne once the activity ended
	result    func(activity.Activity) (any, error)
	onTimeout func()
	timer     *Timer
	done      bool
}

func outcome(act activity.Activity) error {
	if act.State() == activity.Finished {
		return nil
	}
	return act.Err()
}

func (w *waiter) check() (bool, any, error) {
	switch w.mode {
	case waitAny:
		for i, act := range w.acts {
			if act.State().Terminal() {
				return true, i, outcome(act)
			}
		}
		return false, nil, nil
	case waitAll:
		var first error
		for _, act := range w.acts {
			if !act.State().Terminal() {
				return false, nil, nil
			}
			if err := outcome(act); err != nil && first == nil {
				first = err
			}
		}
		return true, nil, first
	default:
		act := w.acts[0]
		if !act.State().Terminal() {
			return false, nil, nil
		}
		if w.result != nil {
			v, err := w.result(act)
			return true, v, err
		}
		return true, nil, outcome(act)
	}
}

func (w *waiter) notify() {
	if w.done {
		return
	}
	if ok, v, err := w.check(); ok {
		w.finish(v, err)
	}
}

func (w *waiter) finish(v any, err error) {
	w.cancel()
	w.e.answer(w.actor, v, err)
}

func (w *waiter) cancel() {
	w.done = true
	if w.timer != nil {
		w.timer.Cancel()
		w.timer = nil
	}
}

func (w *waiter) expire(timeout float64) {
	if w.done {
		return
	}
	w.done = true
	w.timer = nil
	if w.onTimeout != nil {
		w.onTimeout()
	}
	var v any
	if w.mode == waitAny {
		v = -1
	}
	w.e.answer(w.actor, v, fmt.Errorf("%w after %gs", ErrTimeout, timeout))
}

// await blocks a on w, answering right away when the wait is already over.
// A negative timeout waits forever.
func (e *Engine) await(a *Actor, w *waiter, timeout float64) {
	w.e, w.actor = e, a
	if ok, v, err := w.check(); ok {
		w.done = true
		e.answer(a, v, err)
		return
	}
	a.waiter = w
	for _, act := range w.acts {
		if !act.State().Terminal() {
			e.waiters[act] = append(e.waiters[act], w)
		}
	}
	if timeout >= 0 {
		w.timer = e.timers.schedule(e.Now()+timeout, func() { w.expire(timeout) })
	}
}

// Wait blocks until act ends. It returns nil when act finished, its cause
// when it failed and ErrCanceled when it was canceled.
func (a *Actor) Wait(act activity.Activity) error {
	return a.WaitFor(act, -1)
}

// WaitFor is Wait giving up after timeout seconds with ErrTimeout. The
// activity keeps running after a timeout.
func (a *Actor) WaitFor(act activity.Activity, timeout float64) error {
	_, err := a.simcall("wait", func() {
		a.e.await(a, &waiter{acts: []activity.Activity{act}}, timeout)
	})
	return err
}

// WaitAny blocks until one of acts ends and returns its index. When several
// already ended, the first in acts wins.
func (a *Actor) WaitAny(acts []activity.Activity) (int, error) {
	return a.WaitAnyFor(acts, -1)
}

// WaitAnyFor is WaitAny with a timeout; the index is -1 on timeout.
func (a *Actor) WaitAnyFor(acts []activity.Activity, timeout float64) (int, error) {
	if len(acts) == 0 {
		return -1, fmt.Errorf("%w: nothing to wait for", ErrInvalidState)
	}
	v, err := a.simcall("wait_any", func() {
		a.e.await(a, &waiter{acts: acts, mode: waitAny}, timeout)
	})
	i, _ := v.(int)
	return i, err
}

// WaitAll blocks until every activity of acts ended and returns the first
// error in acts order.
func (a *Actor) WaitAll(acts []activity.Activity) error {
	if len(acts) == 0 {
		return nil
	}
	_, err := a.simcall("wait_all", func() {
		a.e.await(a, &waiter{acts: acts, mode: waitAll}, -1)
	})
	return err
}

// Test reports whether act ended, without blocking.
func (a *Actor) Test(act activity.Activity) bool {
	return act.State().Terminal()
}
