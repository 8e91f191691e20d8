// Package resource implements the resource families of the kernel (CPU,
// network, disk, parallel tasks): each model owns a sharing system, turns
// activity requests into actions and advances them when the clock moves.
package resource

import (
	"errors"
	"log/slog"

	"golang.org/x/exp/slices"

	"github.com/GoSim-25-26J-441/simkernel/internal/lmm"
	"github.com/GoSim-25-26J-441/simkernel/internal/profile"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

var (
	// ErrResourceUnavailable is the cause of actions failed by a resource turning off.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrNoRoute is returned when two hosts cannot reach each other.
	ErrNoRoute = errors.New("no route")
	// ErrParallelUnsupported is returned when parallel tasks span resources
	// that do not share the parallel task sharing system.
	ErrParallelUnsupported = errors.New("parallel tasks need the ptask host model")
)

// Model is a resource family.
type Model interface {
	Name() string
	System() *lmm.System
	// NextOccurringEvent solves the sharing system and returns the delay until
	// the first running action ends, or -1 when none will.
	NextOccurringEvent(now float64) float64
	// UpdateActionsState consumes delta seconds of every running action.
	UpdateActionsState(now, delta float64)
	// Drain returns the actions that ended since the last call, in the order
	// they ended.
	Drain() []*Action
	// Started returns the running actions in creation order.
	Started() []*Action
}

// Options configures a model.
type Options struct {
	Solver          lmm.SolverKind
	Precision       float64
	TimingPrecision float64
	MaxIterations   int
	Logger          *slog.Logger
	Clock           *utils.Clock
	Events          *profile.FutureEventSet
	// System, when set, is shared with other models instead of creating one.
	System *lmm.System
}

func (o Options) withDefaults() Options {
	if o.Precision <= 0 {
		o.Precision = utils.DefaultMaxminPrecision
	}
	if o.TimingPrecision <= 0 {
		o.TimingPrecision = utils.DefaultTimingPrecision
	}
	if o.Clock == nil {
		o.Clock = utils.NewClock(0)
	}
	if o.Events == nil {
		o.Events = profile.NewFutureEventSet()
	}
	o.Logger = logger.OrDefault(o.Logger)
	return o
}

// NewSystem builds the sharing system described by o.
func (o Options) NewSystem(name string) *lmm.System {
	o = o.withDefaults()
	opts := []lmm.Option{
		lmm.WithSolver(o.Solver),
		lmm.WithPrecision(o.Precision),
		lmm.WithLogger(o.Logger.With("model", name)),
	}
	if o.MaxIterations > 0 {
		opts = append(opts, lmm.WithMaxIterations(o.MaxIterations))
	}
	return lmm.NewSystem(opts...)
}

// StateHook is called when a resource turns on or off.
type StateHook func(Resource)

// ModelBase holds what every model shares: its sharing system, the running
// actions and the actions waiting to be drained.
type ModelBase struct {
	name   string
	system *lmm.System
	clock  *utils.Clock
	events *profile.FutureEventSet
	logger *slog.Logger

	precision       float64
	timingPrecision float64

	running []*Action
	done    []*Action
	names   map[string]Resource
	hooks   []StateHook
}

func newModelBase(name string, o Options) *ModelBase {
	o = o.withDefaults()
	sys := o.System
	if sys == nil {
		sys = o.NewSystem(name)
	}
	return &ModelBase{
		name:            name,
		system:          sys,
		clock:           o.Clock,
		events:          o.Events,
		logger:          logger.Component(o.Logger, name),
		precision:       o.Precision,
		timingPrecision: o.TimingPrecision,
		names:           make(map[string]Resource),
	}
}

func (m *ModelBase) Name() string         { return m.name }
func (m *ModelBase) System() *lmm.System  { return m.system }
func (m *ModelBase) Clock() *utils.Clock  { return m.clock }
func (m *ModelBase) Logger() *slog.Logger { return m.logger }

// Resource returns the resource registered under name.
func (m *ModelBase) Resource(name string) (Resource, bool) {
	r, ok := m.names[name]
	return r, ok
}

// OnStateChange registers a hook called after a resource of this model turns
// on or off.
func (m *ModelBase) OnStateChange(h StateHook) {
	m.hooks = append(m.hooks, h)
}

func (m *ModelBase) Started() []*Action {
	return slices.Clone(m.running)
}

func (m *ModelBase) Drain() []*Action {
	out := m.done
	m.done = nil
	return out
}

func (m *ModelBase) NextOccurringEvent(now float64) float64 {
	m.system.Solve()
	next := -1.0
	for _, a := range m.running {
		next = utils.MinDate(next, a.nextEvent())
	}
	return next
}

func (m *ModelBase) UpdateActionsState(now, delta float64) {
	for _, a := range slices.Clone(m.running) {
		a.update(delta)
	}
}

func (m *ModelBase) register(r Resource) {
	m.names[r.Name()] = r
}

func (m *ModelBase) start(a *Action) {
	m.running = append(m.running, a)
}

func (m *ModelBase) remove(a *Action) {
	if i := slices.Index(m.running, a); i >= 0 {
		m.running = slices.Delete(m.running, i, i+1)
	}
}

func (m *ModelBase) notify(r Resource) {
	for _, h := range m.hooks {
		h(r)
	}
}
