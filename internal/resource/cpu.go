package resource

import (
	"github.com/GoSim-25-26J-441/simkernel/internal/profile"
)

// CpuModel serves executions on host processors.
type CpuModel struct {
	*ModelBase
}

// NewCpuModel creates the CPU model.
func NewCpuModel(o Options) *CpuModel {
	return &CpuModel{ModelBase: newModelBase("cpu", o)}
}

// Cpu is the processor of a host. Its constraint bound is speed*cores*scale
// and a single execution never exceeds one core.
type Cpu struct {
	Base
	cores      int
	speedEvent *profile.Event
}

// CreateCpu registers a processor with the given per-core speed in flops/s.
func (m *CpuModel) CreateCpu(name string, speed float64, cores int) *Cpu {
	if cores < 1 {
		cores = 1
	}
	c := &Cpu{cores: cores}
	c.init(c, m.ModelBase, name, speed, func() float64 {
		return c.peak * c.scale * float64(c.cores)
	})
	return c
}

// Cpu returns the processor registered under name.
func (m *CpuModel) Cpu(name string) (*Cpu, bool) {
	r, ok := m.Resource(name)
	if !ok {
		return nil, false
	}
	c, ok := r.(*Cpu)
	return c, ok
}

// Cores returns the core count.
func (c *Cpu) Cores() int { return c.cores }

// Speed returns the per-core speed in flops/s, before scaling.
func (c *Cpu) Speed() float64 { return c.peak }

// CoreSpeed returns the current speed of one core.
func (c *Cpu) CoreSpeed() float64 { return c.peak * c.scale }

// SetSpeed changes the per-core peak speed.
func (c *Cpu) SetSpeed(speed float64) {
	c.setPeak(speed)
	c.updateActionBounds()
}

// SetScale applies an external load factor to the speed.
func (c *Cpu) SetScale(scale float64) {
	c.Base.SetScale(scale)
	c.updateActionBounds()
}

// SetSpeedProfile schedules speed scale changes.
func (c *Cpu) SetSpeedProfile(p *profile.Profile) {
	c.speedEvent = reschedule(c.speedEvent, p, c.model.events, c)
}

func (c *Cpu) ApplyEvent(ev *profile.Event, value float64) {
	switch {
	case ev == c.speedEvent:
		c.SetScale(value)
	case c.applyStateEvent(ev, value):
	default:
		c.unknownEvent(ev)
	}
}

// Execute starts an execution of flops on one core. A positive bound further
// caps its rate.
func (c *Cpu) Execute(flops, bound float64) *Action {
	m := c.model
	a := newAction(m, flops)
	a.userBound = bound
	a.capBound = c.coreBound
	a.variable = m.system.NewVariable(a, 1, c.coreBound(bound))
	m.system.Expand(c.cnst, a.variable, 1)
	m.start(a)
	validateStart(a, c)
	return a
}

func (c *Cpu) coreBound(user float64) float64 {
	b := c.CoreSpeed()
	if user > 0 && user < b {
		return user
	}
	return b
}

func (c *Cpu) updateActionBounds() {
	for _, v := range c.cnst.Variables() {
		a, ok := v.Owner().(*Action)
		if !ok || a.model != c.model {
			// parallel tasks are not bound to one core
			continue
		}
		c.model.system.UpdateVariableBound(v, c.coreBound(a.userBound))
	}
}
