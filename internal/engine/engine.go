// Package engine drives a simulation: it runs the actors one at a time,
// services their blocking calls, and advances the simulated clock to the
// next model, timer or profile event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/internal/lmm"
	"github.com/GoSim-25-26J-441/simkernel/internal/platform"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// Status is the outcome of a run.
type Status int

const (
	// StatusCompleted: every actor ended and nothing is pending.
	StatusCompleted Status = iota
	// StatusDeadlock: actors remain blocked and no event can wake them.
	StatusDeadlock
	// StatusTimeLimit: RunUntil reached its date.
	StatusTimeLimit
	// StatusCanceled: the run context was canceled or Stop was called.
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusDeadlock:
		return "deadlock"
	case StatusTimeLimit:
		return "time_limit"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ErrAlreadyRunning is returned when Run is called on a running engine.
var ErrAlreadyRunning = errors.New("engine already running")

// Engine is the discrete-event simulation engine of one run. It is driven by
// a single goroutine; actors run one at a time under its control.
type Engine struct {
	plat       *platform.Platform
	ctx        *activity.Context
	timers     *TimerQueue
	signals    *Signals
	policy     Policy
	logger     *slog.Logger
	parallel   bool
	runManager *RunManager
	observers  []Observer
	runID      string

	pids      utils.Sequence
	actors    []*Actor
	runnable  []*Actor
	yield     chan yieldMsg
	waiters   map[activity.Activity][]*waiter
	owners    map[activity.Activity][]*Actor
	hostsDown []*platform.Host
	running   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPolicy replaces the simcall ordering policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithParallelSolve computes the next event of independent models
// concurrently.
func WithParallelSolve(enabled bool) Option {
	return func(e *Engine) { e.parallel = enabled }
}

// WithObserver subscribes o to the engine signals.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithRunID tags the run; logs and stats carry it.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// New creates an engine simulating plat.
func New(plat *platform.Platform, opts ...Option) *Engine {
	e := &Engine{
		plat:     plat,
		timers:   NewTimerQueue(),
		signals:  &Signals{},
		policy:   FIFOPolicy{},
		parallel: plat.Config().ParallelSolve,
		yield:    make(chan yieldMsg),
		waiters:  make(map[activity.Activity][]*waiter),
		owners:   make(map[activity.Activity][]*Actor),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = utils.GenerateRunID()
	}
	base := logger.OrDefault(e.logger).With("run_id", e.runID)
	e.logger = logger.Component(base, "engine")
	e.runManager = NewRunManager(e.runID)

	e.ctx = activity.NewContext(plat, e.timers, base)
	e.ctx.OnStarted(e.activityStarted)
	e.ctx.OnCompleted(e.activityCompleted)
	plat.OnResourceStateChange(e.resourceStateChanged)

	for _, o := range e.observers {
		o.Subscribe(e.signals)
	}
	return e
}

func (e *Engine) Platform() *platform.Platform { return e.plat }
func (e *Engine) Context() *activity.Context   { return e.ctx }
func (e *Engine) Signals() *Signals            { return e.signals }
func (e *Engine) Timers() *TimerQueue          { return e.timers }
func (e *Engine) RunManager() *RunManager      { return e.runManager }
func (e *Engine) RunID() string                { return e.runID }
func (e *Engine) Logger() *slog.Logger         { return e.logger }

// Now returns the simulated date.
func (e *Engine) Now() float64 { return e.plat.Clock().Now() }

// Schedule runs fn in the engine goroutine at date.
func (e *Engine) Schedule(date float64, fn func()) activity.Timer {
	return e.timers.Schedule(date, fn)
}

// Actors returns the actors not terminated yet, in creation order.
func (e *Engine) Actors() []*Actor { return slices.Clone(e.actors) }

// ActorOf returns the actor that created act, nil for activities created
// outside any actor.
func ActorOf(act activity.Activity) *Actor {
	a, _ := act.Data().(*Actor)
	return a
}

// Mailbox returns the mailbox registered under name.
func (e *Engine) Mailbox(name string) *activity.Mailbox { return e.ctx.Mailbox(name) }

func (e *Engine) NewMutex(name string) *activity.Mutex { return e.ctx.NewMutex(name) }
func (e *Engine) NewCondVar(name string) *activity.CondVar {
	return e.ctx.NewCondVar(name)
}

func (e *Engine) NewSemaphore(name string, capacity int) *activity.Semaphore {
	return e.ctx.NewSemaphore(name, capacity)
}

func (e *Engine) NewBarrier(name string, count int) *activity.Barrier {
	return e.ctx.NewBarrier(name, count)
}

// Run simulates until every actor ended or a deadlock is detected. The
// returned error reports kernel faults only; deadlocks are a Status.
func (e *Engine) Run(ctx context.Context) (Status, error) {
	return e.RunUntil(ctx, -1)
}

// RunUntil is Run stopping at date. A negative date means no limit. Actors
// still alive at the limit stay blocked until Shutdown or a further run.
func (e *Engine) RunUntil(ctx context.Context, date float64) (Status, error) {
	if e.running {
		return StatusCanceled, ErrAlreadyRunning
	}
	e.running = true
	defer func() { e.running = false }()

	ctx = e.runManager.Start(ctx)
	defer e.runManager.release()

	e.logger.Info("Starting simulation",
		"clock", e.Now(),
		"actors", len(e.actors),
		"until", utils.FormatSimTime(date),
		"parallel_solve", e.parallel)

	status := e.loop(ctx, date)
	e.runManager.Finish(status, e.Now())

	e.logger.Info("Simulation ended",
		"status", status.String(),
		"clock", e.Now(),
		"actors_alive", len(e.actors))
	return status, nil
}

// Stop cancels a running simulation from another goroutine.
func (e *Engine) Stop() {
	e.runManager.Cancel()
}

// Shutdown kills every remaining actor and lets their on-exit handlers run.
// It must not be called while Run is in progress.
func (e *Engine) Shutdown() {
	e.killAndSettle(fmt.Errorf("%w: engine shut down", ErrActorKilled))
	e.logger.Debug("Engine shut down", "clock", e.Now())
}

func (e *Engine) loop(ctx context.Context, until float64) Status {
	for {
		if ctx.Err() != nil {
			e.logger.Warn("Simulation cancelled", "clock", e.Now())
			e.killAndSettle(fmt.Errorf("%w: run canceled", ErrActorKilled))
			return StatusCanceled
		}

		e.drain()
		e.flushHostFailures()

		if len(e.runnable) > 0 {
			e.runRound()
			continue
		}
		if e.onlyDaemons() {
			for _, a := range slices.Clone(e.actors) {
				e.kill(a, fmt.Errorf("%w: only daemons left", ErrActorKilled))
			}
			continue
		}

		next, delta := e.nextEvent()
		if until >= 0 && next > until {
			e.advance(until, until-e.Now())
			return StatusTimeLimit
		}
		if next < 0 {
			if len(e.actors) == 0 {
				return StatusCompleted
			}
			names := make([]string, len(e.actors))
			for i, a := range e.actors {
				names[i] = a.name
			}
			e.logger.Warn("Deadlock: no more events while actors are blocked",
				"clock", e.Now(),
				"blocked", names)
			e.killAndSettle(fmt.Errorf("%w: deadlock", ErrActorKilled))
			return StatusDeadlock
		}
		e.advance(next, delta)
	}
}

// nextEvent returns the date of the next event and the delay to it, or -1
// when nothing is pending. Profile events only count while a timer or an
// action is pending, so periodic profiles cannot keep an idle simulation
// alive.
func (e *Engine) nextEvent() (float64, float64) {
	now := e.Now()
	next, delta := -1.0, -1.0
	consider := func(date, d float64) {
		if date >= 0 && (next < 0 || date < next) {
			next, delta = date, d
		}
	}

	busy := false
	if t := e.timers.NextDate(); t >= 0 {
		consider(t, t-now)
		busy = true
	}
	models := e.plat.Models()
	for i, d := range e.modelDelays(now, models) {
		if d >= 0 {
			consider(now+d, d)
		}
		if len(models[i].Started()) > 0 {
			busy = true
		}
	}
	if busy {
		if t := e.plat.Events().NextDate(); t >= 0 {
			consider(t, t-now)
		}
	}
	return next, delta
}

// modelDelays solves every model. Models sharing a sharing system are solved
// by the same goroutine; results are read after the barrier, in model order.
func (e *Engine) modelDelays(now float64, models []resource.Model) []float64 {
	delays := make([]float64, len(models))
	if !e.parallel || len(models) < 2 {
		for i, m := range models {
			delays[i] = m.NextOccurringEvent(now)
		}
		return delays
	}

	var systems []*lmm.System
	groups := make(map[*lmm.System][]int)
	for i, m := range models {
		sys := m.System()
		if _, ok := groups[sys]; !ok {
			systems = append(systems, sys)
		}
		groups[sys] = append(groups[sys], i)
	}
	var g errgroup.Group
	for _, sys := range systems {
		idx := groups[sys]
		g.Go(func() error {
			for _, i := range idx {
				delays[i] = models[i].NextOccurringEvent(now)
			}
			return nil
		})
	}
	_ = g.Wait()
	return delays
}

// advance moves the clock to date. Profile events due by date are applied
// one date at a time, with the clock at their own date, before the models
// consume delta. The due timers fire last.
func (e *Engine) advance(date, delta float64) {
	events := e.plat.Events()
	for {
		at := events.NextDate()
		if at < 0 || at > date {
			break
		}
		e.plat.Clock().Set(at)
		for {
			ev, value, ok := events.PopLeq(at)
			if !ok {
				break
			}
			if r, ok := ev.Target().(resource.Resource); ok {
				r.ApplyEvent(ev, value)
			}
		}
	}
	e.plat.Clock().Set(date)
	if delta > 0 {
		for _, m := range e.plat.Models() {
			m.UpdateActionsState(date, delta)
		}
	}
	for t := e.timers.PopDue(date); t != nil; t = e.timers.PopDue(date) {
		t.fn()
	}
	e.runManager.SetClock(date)
	emit(e.signals.clockAdvanced, date)
}

func (e *Engine) drain() {
	for _, m := range e.plat.Models() {
		for _, a := range m.Drain() {
			e.ctx.HandleAction(a)
		}
	}
}

func (e *Engine) onlyDaemons() bool {
	if len(e.actors) == 0 {
		return false
	}
	for _, a := range e.actors {
		if !a.daemon {
			return false
		}
	}
	return true
}

// runRound runs every runnable actor until it blocks or ends, then services
// the simcalls they issued in policy order.
func (e *Engine) runRound() {
	batch := e.runnable
	e.runnable = nil

	var pending []*Simcall
	for _, a := range batch {
		a.queued = false
		if a.state == actorDead {
			continue
		}
		msg := a.answer
		a.answer, a.answered = resumeMsg{}, false
		if a.killPending {
			msg = resumeMsg{kill: true}
		}
		if sc := e.step(a, msg); sc != nil {
			pending = append(pending, sc)
		}
	}

	for len(pending) > 0 {
		i := e.policy.Next(pending)
		if i < 0 || i >= len(pending) {
			i = 0
		}
		sc := pending[i]
		pending = slices.Delete(pending, i, i+1)
		e.service(sc)
	}
}

// step hands control to a and waits until it blocks or ends.
func (e *Engine) step(a *Actor, msg resumeMsg) *Simcall {
	if !a.launched {
		if msg.kill {
			e.terminate(a, exitInfo{err: a.killCause, failed: true})
			return nil
		}
		if !a.host.IsOn() {
			e.terminate(a, exitInfo{err: fmt.Errorf("%w: %s", ErrHostOff, a.host.Name()), failed: true})
			return nil
		}
		a.launched = true
		go a.main()
	}
	a.wake <- msg
	y := <-e.yield
	if y.exit != nil {
		e.terminate(a, *y.exit)
		return nil
	}
	return y.call
}

func (e *Engine) service(sc *Simcall) {
	a := sc.Actor
	if a.state == actorDead {
		return
	}
	if a.killPending {
		e.enqueue(a)
		return
	}
	sc.handle()
}

func (e *Engine) enqueue(a *Actor) {
	if a.state == actorDead || a.queued {
		return
	}
	if a.suspended && !a.killPending {
		return
	}
	a.queued = true
	e.runnable = append(e.runnable, a)
}

// answer ends the blocking call of a with value and err.
func (e *Engine) answer(a *Actor, value any, err error) {
	if a.state == actorDead {
		return
	}
	a.waiter = nil
	a.answer = resumeMsg{value: value, err: err}
	a.answered = true
	e.enqueue(a)
}

// kill terminates a at its current suspension point. Its activities are
// canceled, or failed with cause when its host turned off.
func (e *Engine) kill(a *Actor, cause error) {
	if a.state == actorDead || a.killPending {
		return
	}
	e.logger.Debug("Killing actor", "actor", a.name, "pid", a.pid, "clock", e.Now(), "cause", cause)
	a.killPending = true
	a.killCause = cause
	a.suspended = false
	if a.waiter != nil {
		a.waiter.cancel()
		a.waiter = nil
	}
	if a.startTimer != nil {
		a.startTimer.Cancel()
		a.startTimer = nil
	}
	hostOff := errors.Is(cause, ErrHostOff)
	for _, act := range slices.Clone(a.owned) {
		switch act.State() {
		case activity.Scheduled, activity.Started:
			if hostOff {
				_ = act.Fail(cause)
			} else {
				_ = act.Cancel()
			}
		case activity.Init:
			_ = act.Fail(cause)
		}
	}
	a.answered = true
	e.enqueue(a)
}

func (e *Engine) killAndSettle(cause error) {
	for len(e.actors) > 0 {
		for _, a := range slices.Clone(e.actors) {
			e.kill(a, cause)
		}
		for len(e.runnable) > 0 {
			e.runRound()
		}
	}
}

func (e *Engine) terminate(a *Actor, info exitInfo) {
	if a.state == actorDead {
		return
	}
	a.state = actorDead
	a.err, a.failed = info.err, info.failed
	if a.startTimer != nil {
		a.startTimer.Cancel()
		a.startTimer = nil
	}
	if a.killTimer != nil {
		a.killTimer.Cancel()
		a.killTimer = nil
	}
	if a.waiter != nil {
		a.waiter.cancel()
		a.waiter = nil
	}
	if i := slices.Index(e.actors, a); i >= 0 {
		e.actors = slices.Delete(e.actors, i, i+1)
	}
	if a.queued {
		if i := slices.Index(e.runnable, a); i >= 0 {
			e.runnable = slices.Delete(e.runnable, i, i+1)
		}
		a.queued = false
	}

	e.runManager.actorTerminated(info.failed)
	if info.failed {
		e.logger.Debug("Actor failed", "actor", a.name, "pid", a.pid, "clock", e.Now(), "error", info.err)
	} else {
		e.logger.Debug("Actor ended", "actor", a.name, "pid", a.pid, "clock", e.Now())
	}
	emit(e.signals.actorTerminated, a)

	handlers := a.onExit
	a.onExit = nil
	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i](info.failed)
	}
	for _, j := range a.joiners {
		e.answer(j, nil, nil)
	}
	a.joiners = nil
	emit(e.signals.actorDestroyed, a)
}

func (e *Engine) own(a *Actor, act activity.Activity) {
	if act.State().Terminal() {
		return
	}
	if act.Data() == nil {
		act.SetData(a)
	}
	a.owned = append(a.owned, act)
	e.owners[act] = append(e.owners[act], a)
}

func (e *Engine) activityStarted(act activity.Activity) {
	e.runManager.activityStarted()
	emit(e.signals.activityStarted, act)
}

func (e *Engine) activityCompleted(act activity.Activity) {
	for _, a := range e.owners[act] {
		if i := slices.Index(a.owned, act); i >= 0 {
			a.owned = slices.Delete(a.owned, i, i+1)
		}
	}
	delete(e.owners, act)

	ws := e.waiters[act]
	delete(e.waiters, act)
	for _, w := range ws {
		w.notify()
	}
	e.runManager.activityCompleted(act.State())
	emit(e.signals.activityCompleted, act)
}

func (e *Engine) resourceStateChanged(r resource.Resource) {
	emit(e.signals.resourceState, r)
	cpu, ok := r.(*resource.Cpu)
	if !ok || cpu.IsOn() {
		return
	}
	if h, ok := e.plat.HostByCpu(cpu); ok {
		e.hostsDown = append(e.hostsDown, h)
	}
}

// flushHostFailures kills the actors of the hosts that turned off. It runs
// after the models were drained so that the work of those actors fails with
// the resource error first.
func (e *Engine) flushHostFailures() {
	for len(e.hostsDown) > 0 {
		h := e.hostsDown[0]
		e.hostsDown = e.hostsDown[1:]
		cause := fmt.Errorf("%w: %s", ErrHostOff, h.Name())
		for _, a := range slices.Clone(e.actors) {
			if a.host == h {
				e.kill(a, cause)
			}
		}
	}
}
