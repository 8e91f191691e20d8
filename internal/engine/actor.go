package engine

import (
	"fmt"
	"runtime"

	"golang.org/x/exp/slices"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/internal/platform"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

type actorState int

const (
	// actorCreated: waiting for its start date
	actorCreated actorState = iota
	actorAlive
	actorDead
)

type resumeMsg struct {
	value any
	err   error
	kill  bool
}

type exitInfo struct {
	err    error
	failed bool
}

type yieldMsg struct {
	call *Simcall
	exit *exitInfo
}

// Actor is a simulated thread of application logic. Its function runs in a
// goroutine that only executes while the engine hands it control, and gives
// control back at every blocking call.
//
// The methods issuing blocking calls must only be called from the actor's
// own function.
type Actor struct {
	e     *Engine
	pid   int64
	name  string
	host  *platform.Host
	fn    func(*Actor) error
	props map[string]string

	state    actorState
	daemon   bool
	launched bool
	wake     chan resumeMsg

	queued      bool
	suspended   bool
	answer      resumeMsg
	answered    bool
	killPending bool
	killCause   error

	waiter  *waiter
	owned   []activity.Activity
	onExit  []func(failed bool)
	joiners []*Actor

	startTimer *Timer
	killTimer  *Timer

	err    error
	failed bool
}

// ActorOption configures a spawned actor.
type ActorOption func(*actorConfig)

type actorConfig struct {
	start  float64
	kill   float64
	daemon bool
	props  map[string]string
}

// StartAt delays the first run of the actor to date.
func StartAt(date float64) ActorOption {
	return func(c *actorConfig) { c.start = date }
}

// KillAt kills the actor at date if it is still alive.
func KillAt(date float64) ActorOption {
	return func(c *actorConfig) { c.kill = date }
}

// AsDaemon makes the actor a daemon: it is killed once only daemons remain.
func AsDaemon() ActorOption {
	return func(c *actorConfig) { c.daemon = true }
}

// WithProperty sets a property of the actor.
func WithProperty(key, value string) ActorOption {
	return func(c *actorConfig) { c.props[key] = value }
}

// Spawn creates an actor running fn on host. It may be called before Run or
// from a running actor.
func (e *Engine) Spawn(name string, host *platform.Host, fn func(*Actor) error, opts ...ActorOption) *Actor {
	cfg := actorConfig{start: -1, kill: -1, props: make(map[string]string)}
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &Actor{
		e:      e,
		pid:    e.pids.Next(),
		name:   name,
		host:   host,
		fn:     fn,
		props:  cfg.props,
		daemon: cfg.daemon,
		wake:   make(chan resumeMsg),
	}
	e.actors = append(e.actors, a)
	e.runManager.actorCreated()
	e.logger.Debug("Actor created", "actor", name, "pid", a.pid, "host", host.Name(), "clock", e.Now())
	emit(e.signals.actorCreated, a)

	if cfg.kill >= 0 {
		a.SetKillTime(cfg.kill)
	}
	if cfg.start > e.Now() {
		a.state = actorCreated
		a.startTimer = e.timers.schedule(cfg.start, func() {
			a.startTimer = nil
			a.state = actorAlive
			a.answered = true
			e.enqueue(a)
		})
		return a
	}
	a.state = actorAlive
	a.answered = true
	e.enqueue(a)
	return a
}

func (a *Actor) PID() int64               { return a.pid }
func (a *Actor) Name() string             { return a.name }
func (a *Actor) Host() *platform.Host     { return a.host }
func (a *Actor) Engine() *Engine          { return a.e }
func (a *Actor) Now() float64             { return a.e.Now() }
func (a *Actor) IsDaemon() bool           { return a.daemon }
func (a *Actor) IsSuspended() bool        { return a.suspended }
func (a *Actor) Property(k string) string { return a.props[k] }

// IsAlive reports whether the actor has not terminated.
func (a *Actor) IsAlive() bool { return a.state != actorDead }

// Err returns the exit cause of a terminated actor: the error its function
// returned, or why it was killed.
func (a *Actor) Err() error { return a.err }

// Failed reports whether the actor ended by an error, a panic or a kill.
func (a *Actor) Failed() bool { return a.failed }

// SetProperty sets a property of the actor.
func (a *Actor) SetProperty(k, v string) { a.props[k] = v }

// OnExit registers fn to run when the actor terminates. Handlers run in the
// engine goroutine in reverse registration order and must not block.
func (a *Actor) OnExit(fn func(failed bool)) {
	a.onExit = append(a.onExit, fn)
}

// Daemonize turns the actor into a daemon.
func (a *Actor) Daemonize() { a.daemon = true }

// SetKillTime kills the actor at date. A negative date removes the kill time.
func (a *Actor) SetKillTime(date float64) {
	if a.killTimer != nil {
		a.killTimer.Cancel()
		a.killTimer = nil
	}
	if date < 0 || a.state == actorDead {
		return
	}
	a.killTimer = a.e.timers.schedule(date, func() {
		a.killTimer = nil
		a.e.kill(a, fmt.Errorf("%w: kill time %s reached", ErrActorKilled, utils.FormatSimTime(date)))
	})
}

func (a *Actor) main() {
	var (
		err      error
		returned bool
	)
	defer func() {
		info := &exitInfo{err: err, failed: err != nil}
		if r := recover(); r != nil {
			info.err = fmt.Errorf("actor %s panicked: %v", a.name, r)
			info.failed = true
		} else if !returned {
			info.err = a.killCause
			info.failed = true
		}
		a.e.yield <- yieldMsg{exit: info}
	}()

	if msg := <-a.wake; msg.kill {
		runtime.Goexit()
	}
	err = a.fn(a)
	returned = true
}

// simcall blocks the actor until the engine answered the request serviced
// by handle. A kill received meanwhile ends the goroutine.
func (a *Actor) simcall(name string, handle func()) (any, error) {
	if a.state == actorDead {
		return nil, fmt.Errorf("%w: %s called %s after its end", ErrActorKilled, a.name, name)
	}
	a.e.yield <- yieldMsg{call: &Simcall{Actor: a, Name: name, handle: handle}}
	msg := <-a.wake
	if msg.kill {
		runtime.Goexit()
	}
	return msg.value, msg.err
}

// Yield lets the other runnable actors run before continuing.
func (a *Actor) Yield() {
	_, _ = a.simcall("yield", func() { a.e.answer(a, nil, nil) })
}

// Suspend pauses target. Its activities are suspended and it does not run
// until resumed. An actor suspending itself blocks until another resumes it.
func (a *Actor) Suspend(target *Actor) error {
	_, err := a.simcall("suspend", func() {
		e := a.e
		if target.state == actorDead {
			e.answer(a, nil, fmt.Errorf("%w: %s already ended", ErrInvalidState, target.name))
			return
		}
		e.suspend(target)
		if target == a {
			a.answer = resumeMsg{}
			a.answered = true
			return
		}
		e.answer(a, nil, nil)
	})
	return err
}

// Resume undoes Suspend.
func (a *Actor) Resume(target *Actor) error {
	_, err := a.simcall("resume", func() {
		a.e.resume(target)
		a.e.answer(a, nil, nil)
	})
	return err
}

// Kill terminates target at its current suspension point. Killing itself
// ends the caller right away.
func (a *Actor) Kill(target *Actor) {
	_, _ = a.simcall("kill", func() {
		a.e.kill(target, fmt.Errorf("%w: by %s", ErrActorKilled, a.name))
		if target != a {
			a.e.answer(a, nil, nil)
		}
	})
}

// Migrate moves the actor to host. Work already started stays where it is;
// only later calls use the new host.
func (a *Actor) Migrate(host *platform.Host) {
	_, _ = a.simcall("migrate", func() {
		a.e.logger.Debug("Actor migrated", "actor", a.name, "from", a.host.Name(), "to", host.Name(), "clock", a.e.Now())
		a.host = host
		a.e.answer(a, nil, nil)
	})
}

// Join blocks until target terminates.
func (a *Actor) Join(target *Actor) error {
	_, err := a.simcall("join", func() {
		if target == a {
			a.e.answer(a, nil, fmt.Errorf("%w: %s cannot join itself", ErrInvalidState, a.name))
			return
		}
		if target.state == actorDead {
			a.e.answer(a, nil, nil)
			return
		}
		target.joiners = append(target.joiners, a)
	})
	return err
}

func (e *Engine) suspend(a *Actor) {
	if a.suspended || a.killPending {
		return
	}
	a.suspended = true
	if a.queued {
		if i := slices.Index(e.runnable, a); i >= 0 {
			e.runnable = slices.Delete(e.runnable, i, i+1)
		}
		a.queued = false
	}
	for _, act := range a.owned {
		act.Suspend()
	}
	e.logger.Debug("Actor suspended", "actor", a.name, "clock", e.Now())
}

func (e *Engine) resume(a *Actor) {
	if !a.suspended || a.state == actorDead {
		return
	}
	a.suspended = false
	for _, act := range a.owned {
		act.Resume()
	}
	if a.answered {
		e.enqueue(a)
	}
	e.logger.Debug("Actor resumed", "actor", a.name, "clock", e.Now())
}
