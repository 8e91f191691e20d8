package resource

import (
	"fmt"

	"github.com/GoSim-25-26J-441/simkernel/internal/lmm"
	"github.com/GoSim-25-26J-441/simkernel/internal/profile"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// Resource is a capacity-bearing object: a CPU, a link or a disk.
type Resource interface {
	Name() string
	Model() Model
	// ID is the identifier of the resource constraint, increasing with
	// creation order.
	ID() int64
	Constraint() *lmm.Constraint
	Capacity() float64
	Scale() float64
	SetScale(scale float64)
	IsOn() bool
	TurnOn()
	TurnOff()
	// ApplyEvent applies a profile event scheduled on this resource.
	ApplyEvent(ev *profile.Event, value float64)
	SetStateProfile(p *profile.Profile)
}

// Base implements the parts of Resource that do not depend on the family.
type Base struct {
	name  string
	model *ModelBase
	cnst  *lmm.Constraint
	peak  float64
	scale float64
	on    bool

	self       Resource
	capacity   func() float64
	stateEvent *profile.Event
}

func (b *Base) init(self Resource, m *ModelBase, name string, peak float64, capacity func() float64) {
	b.self = self
	b.model = m
	b.name = name
	b.peak = peak
	b.scale = 1
	b.on = true
	b.capacity = capacity
	b.cnst = m.system.NewConstraint(self, capacity())
	m.register(self)
}

func (b *Base) Name() string                { return b.name }
func (b *Base) Model() Model                { return b.model }
func (b *Base) ID() int64                   { return b.cnst.ID() }
func (b *Base) Constraint() *lmm.Constraint { return b.cnst }
func (b *Base) IsOn() bool                  { return b.on }
func (b *Base) Scale() float64              { return b.scale }

// Capacity returns the current bound of the resource: peak times scale, zero
// when off.
func (b *Base) Capacity() float64 {
	if !b.on {
		return 0
	}
	return b.capacity()
}

// Peak returns the intrinsic capacity.
func (b *Base) Peak() float64 { return b.peak }

func (b *Base) setPeak(v float64) {
	b.peak = v
	b.refresh()
}

// SetScale applies an external load factor, clamped to [0,1].
func (b *Base) SetScale(scale float64) {
	b.scale = utils.ClampFloat64(scale, 0, 1)
	b.refresh()
}

func (b *Base) refresh() {
	b.model.system.UpdateConstraintBound(b.cnst, b.Capacity())
}

// TurnOn reactivates the resource. Work failed while it was off stays failed.
func (b *Base) TurnOn() {
	if b.on {
		return
	}
	b.on = true
	b.refresh()
	b.model.logger.Debug("resource turned on", "resource", b.name, "clock", b.model.clock.Now())
	b.model.notify(b.self)
}

// TurnOff removes the capacity of the resource and fails every action with a
// nonzero coefficient on it.
func (b *Base) TurnOff() {
	if !b.on {
		return
	}
	b.on = false
	b.refresh()
	b.failActions(b.cnst)
	b.model.logger.Debug("resource turned off", "resource", b.name, "clock", b.model.clock.Now())
	b.model.notify(b.self)
}

func (b *Base) failActions(c *lmm.Constraint) {
	for _, v := range c.Variables() {
		if v.Consumption(c) <= 0 {
			continue
		}
		if a, ok := v.Owner().(*Action); ok {
			a.Fail(fmt.Errorf("%w: %s is off", ErrResourceUnavailable, b.name))
		}
	}
}

// SetStateProfile schedules on/off events: a value of 0 turns the resource
// off, any other value turns it on.
func (b *Base) SetStateProfile(p *profile.Profile) {
	b.stateEvent = reschedule(b.stateEvent, p, b.model.events, b.self)
}

// applyStateEvent reports whether ev was the state event of the resource.
func (b *Base) applyStateEvent(ev *profile.Event, value float64) bool {
	if ev != b.stateEvent {
		return false
	}
	if value > 0 {
		b.self.TurnOn()
	} else {
		b.self.TurnOff()
	}
	return true
}

func (b *Base) unknownEvent(ev *profile.Event) {
	b.model.logger.Warn("ignoring profile event not registered on resource",
		"resource", b.name, "profile", ev.Profile().Name())
}

// validateStart fails a freshly created action right away when one of the
// resources it uses is off.
func validateStart(a *Action, rs ...Resource) {
	for _, r := range rs {
		if !r.IsOn() {
			a.Fail(fmt.Errorf("%w: %s is off", ErrResourceUnavailable, r.Name()))
			return
		}
	}
}
