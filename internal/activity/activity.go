// Package activity implements the units of simulated work (executions,
// communications, disk I/O, sleeps and synchronizations), their state machine
// and the dependency graph between them.
//
// Activities are driven by one engine at a time and are not safe for
// concurrent use.
package activity

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/exp/slices"

	"github.com/GoSim-25-26J-441/simkernel/internal/platform"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

var (
	// ErrResourceUnavailable is the cause of activities failed by a resource
	// turning off.
	ErrResourceUnavailable = resource.ErrResourceUnavailable
	// ErrDependencyNotSolved is returned by Start while predecessors remain.
	ErrDependencyNotSolved = errors.New("dependency not solved")
	// ErrDependencyFailed is the cause of activities failed because a
	// predecessor failed or was canceled.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrNotReady is returned by Start when the resources are not assigned.
	ErrNotReady = errors.New("activity not ready")
	// ErrCanceled is reported by canceled activities.
	ErrCanceled = errors.New("activity canceled")
	// ErrTimeout is returned by waits that gave up before the activity ended.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidState is returned by operations not allowed in the current state.
	ErrInvalidState = errors.New("invalid activity state")
)

// State is the lifecycle state of an activity.
type State int

const (
	Init State = iota
	Scheduled
	Started
	Finished
	Failed
	Canceled
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Scheduled:
		return "SCHEDULED"
	case Started:
		return "STARTED"
	case Finished:
		return "FINISHED"
	case Failed:
		return "FAILED"
	case Canceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == Finished || s == Failed || s == Canceled
}

// Kind tells the concrete type of an activity.
type Kind int

const (
	KindExec Kind = iota
	KindComm
	KindIo
	KindSleep
	KindSynchro
)

func (k Kind) String() string {
	switch k {
	case KindExec:
		return "exec"
	case KindComm:
		return "comm"
	case KindIo:
		return "io"
	case KindSleep:
		return "sleep"
	case KindSynchro:
		return "synchro"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Activity is implemented by every activity type.
type Activity interface {
	ID() int64
	Name() string
	Kind() Kind
	State() State
	Err() error
	Remaining() float64
	StartTime() float64
	FinishTime() float64
	Data() any
	SetData(d any)

	Start() error
	Schedule() error
	Cancel() error
	Fail(err error) error
	Suspend()
	Resume()

	AddSuccessor(s Activity) error
	RemoveSuccessor(s Activity)
	Dependencies() []Activity
	Successors() []Activity
	OnCompletion(fn func(Activity))

	base() *Base
}

// impl is the part of the lifecycle that depends on the activity type.
type impl interface {
	// ready reports whether the resources are assigned.
	ready() bool
	// launch creates the model action or timer.
	launch() error
	remaining() float64
	suspend()
	resume()
	// abort releases what launch created, or the mailbox slot of a pending
	// communication.
	abort()
}

// Timer is a pending timer callback.
type Timer interface {
	Cancel()
}

// Timers schedules callbacks at simulated dates. The engine implements it.
type Timers interface {
	Schedule(date float64, fn func()) Timer
}

// Context is the per-run environment shared by the activities: the platform,
// the timer queue, the mailboxes and the lifecycle observers.
type Context struct {
	plat   *platform.Platform
	timers Timers
	logger *slog.Logger
	ids    utils.Sequence

	mailboxes map[string]*Mailbox
	started   []func(Activity)
	completed []func(Activity)
}

// NewContext creates the activity context of a run.
func NewContext(plat *platform.Platform, timers Timers, l *slog.Logger) *Context {
	return &Context{
		plat:      plat,
		timers:    timers,
		logger:    logger.Component(l, "activity"),
		mailboxes: make(map[string]*Mailbox),
	}
}

// Platform returns the platform the activities run on.
func (c *Context) Platform() *platform.Platform { return c.plat }

// Now returns the simulated date.
func (c *Context) Now() float64 { return c.plat.Clock().Now() }

// OnStarted registers an observer called when an activity starts.
func (c *Context) OnStarted(fn func(Activity)) { c.started = append(c.started, fn) }

// OnCompleted registers an observer called when an activity reaches a
// terminal state.
func (c *Context) OnCompleted(fn func(Activity)) { c.completed = append(c.completed, fn) }

// HandleAction propagates the end of a model action to the activity owning it.
// The engine calls it for every action returned by the models' Drain.
func (c *Context) HandleAction(a *resource.Action) {
	act, ok := a.Data().(Activity)
	if !ok {
		return
	}
	switch a.State() {
	case resource.ActionFinished:
		act.base().complete(Finished, nil)
	case resource.ActionFailed:
		act.base().complete(Failed, a.Err())
	}
}

// Base implements the state machine, the dependency edges and the completion
// hooks. Concrete activities embed it.
type Base struct {
	ctx  *Context
	self Activity
	impl impl

	id    int64
	name  string
	kind  Kind
	state State
	err   error

	startTime  float64
	finishTime float64
	// remaining amount frozen at termination
	remaining float64

	deps           []Activity
	succs          []Activity
	startRequested bool
	hooks          []func(Activity)
	data           any
}

func (b *Base) init(ctx *Context, self Activity, im impl, kind Kind) {
	b.ctx = ctx
	b.self = self
	b.impl = im
	b.kind = kind
	b.id = ctx.ids.Next()
	b.name = fmt.Sprintf("%s-%d", kind, b.id)
	b.startTime = -1
	b.finishTime = -1
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() int64           { return b.id }
func (b *Base) Name() string        { return b.name }
func (b *Base) Kind() Kind          { return b.kind }
func (b *Base) State() State        { return b.state }
func (b *Base) Err() error          { return b.err }
func (b *Base) StartTime() float64  { return b.startTime }
func (b *Base) FinishTime() float64 { return b.finishTime }
func (b *Base) Data() any           { return b.data }

// SetName renames the activity.
func (b *Base) SetName(name string) { b.name = name }

// SetData attaches an arbitrary value to the activity.
func (b *Base) SetData(d any) { b.data = d }

// Remaining returns the amount of work left: flops, bytes, seconds or, for
// parallel executions, the fraction of the task. Terminal activities keep the
// value they had when they ended.
func (b *Base) Remaining() float64 {
	if b.state.Terminal() {
		return b.remaining
	}
	return b.impl.remaining()
}

// Dependencies returns the predecessors not finished yet.
func (b *Base) Dependencies() []Activity { return slices.Clone(b.deps) }

// Successors returns the activities depending on this one.
func (b *Base) Successors() []Activity { return slices.Clone(b.succs) }

// OnCompletion registers fn to run when the activity reaches a terminal state.
func (b *Base) OnCompletion(fn func(Activity)) {
	b.hooks = append(b.hooks, fn)
}

// Start assigns the activity to the models. The dependencies must be solved
// and the resources assigned.
func (b *Base) Start() error {
	if b.state != Init && b.state != Scheduled {
		return fmt.Errorf("%w: cannot start %s while %s", ErrInvalidState, b.name, b.state)
	}
	if len(b.deps) > 0 {
		return fmt.Errorf("%w: %s waits for %d predecessors", ErrDependencyNotSolved, b.name, len(b.deps))
	}
	if !b.impl.ready() {
		return fmt.Errorf("%w: %s has no resource assigned", ErrNotReady, b.name)
	}

	b.state = Started
	b.startTime = b.ctx.Now()
	b.ctx.logger.Debug("activity started", "activity", b.name, "kind", b.kind.String(), "clock", b.startTime)
	for _, fn := range b.ctx.started {
		fn(b.self)
	}
	if err := b.impl.launch(); err != nil {
		b.complete(Failed, err)
		return err
	}
	return nil
}

// Schedule requests a start as soon as the dependencies are solved and the
// resources assigned. It starts the activity right away when both already
// hold.
func (b *Base) Schedule() error {
	if b.state != Init && b.state != Scheduled {
		return fmt.Errorf("%w: cannot schedule %s while %s", ErrInvalidState, b.name, b.state)
	}
	b.startRequested = true
	if len(b.deps) == 0 && b.impl.ready() {
		return b.Start()
	}
	b.state = Scheduled
	return nil
}

// Cancel stops a scheduled or started activity. Its successors fail.
func (b *Base) Cancel() error {
	if b.state != Scheduled && b.state != Started {
		return fmt.Errorf("%w: cannot cancel %s while %s", ErrInvalidState, b.name, b.state)
	}
	b.complete(Canceled, ErrCanceled)
	return nil
}

// Fail terminates a non-terminal activity with err.
func (b *Base) Fail(err error) error {
	if b.state.Terminal() {
		return fmt.Errorf("%w: %s already %s", ErrInvalidState, b.name, b.state)
	}
	b.complete(Failed, err)
	return nil
}

// Suspend freezes the progress of a started activity.
func (b *Base) Suspend() {
	if b.state == Started {
		b.impl.suspend()
	}
}

// Resume undoes Suspend.
func (b *Base) Resume() {
	if b.state == Started {
		b.impl.resume()
	}
}

// AddSuccessor makes s depend on b: s cannot start before b finishes, and
// fails if b fails.
func (b *Base) AddSuccessor(s Activity) error {
	sb := s.base()
	if sb == b {
		return fmt.Errorf("%w: %s cannot depend on itself", ErrInvalidState, b.name)
	}
	if sb.state != Init && sb.state != Scheduled {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidState, sb.name, sb.state)
	}
	if b.state.Terminal() {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidState, b.name, b.state)
	}
	if slices.Index(b.succs, s) >= 0 {
		return nil
	}
	b.succs = append(b.succs, s)
	sb.deps = append(sb.deps, b.self)
	return nil
}

// RemoveSuccessor drops the dependency of s on b.
func (b *Base) RemoveSuccessor(s Activity) {
	if i := slices.Index(b.succs, s); i >= 0 {
		b.succs = slices.Delete(b.succs, i, i+1)
	}
	sb := s.base()
	sb.removeDependency(b.self)
	sb.tryAutoStart()
}

func (b *Base) removeDependency(dep Activity) {
	if i := slices.Index(b.deps, dep); i >= 0 {
		b.deps = slices.Delete(b.deps, i, i+1)
	}
}

func (b *Base) tryAutoStart() {
	if !b.startRequested || b.state.Terminal() || b.state == Started {
		return
	}
	if len(b.deps) == 0 && b.impl.ready() {
		// launch errors are reported through the activity state
		_ = b.Start()
	}
}

func (b *Base) complete(state State, err error) {
	if b.state.Terminal() {
		return
	}
	b.remaining = b.impl.remaining()
	if state != Finished {
		b.impl.abort()
	} else {
		b.remaining = 0
	}
	b.state = state
	b.err = err
	b.finishTime = b.ctx.Now()
	b.startRequested = false

	if err != nil && state == Failed {
		b.ctx.logger.Debug("activity failed", "activity", b.name, "clock", b.finishTime, "error", err)
	} else {
		b.ctx.logger.Debug("activity ended", "activity", b.name, "state", state.String(), "clock", b.finishTime)
	}

	hooks := b.hooks
	b.hooks = nil
	for _, fn := range hooks {
		fn(b.self)
	}
	for _, fn := range b.ctx.completed {
		fn(b.self)
	}

	for _, s := range slices.Clone(b.succs) {
		sb := s.base()
		if state == Finished {
			sb.removeDependency(b.self)
			sb.tryAutoStart()
			continue
		}
		if sb.state.Terminal() {
			continue
		}
		if state == Failed && err != nil {
			sb.complete(Failed, fmt.Errorf("%w: %s failed: %w", ErrDependencyFailed, b.name, err))
		} else {
			sb.complete(Failed, fmt.Errorf("%w: %s ended %s", ErrDependencyFailed, b.name, state))
		}
	}
}
