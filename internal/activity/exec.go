package activity

import (
	"fmt"

	"github.com/GoSim-25-26J-441/simkernel/internal/platform"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
)

// Exec is a computation on one host, or a parallel task spanning several
// hosts and the links between them.
type Exec struct {
	Base
	hosts    []*platform.Host
	flops    []float64
	bytes    []float64
	bound    float64
	priority float64
	action   *resource.Action
}

// NewExec creates a computation of flops on host. host may be nil and set
// later with SetHost.
func (c *Context) NewExec(host *platform.Host, flops float64) *Exec {
	e := &Exec{flops: []float64{flops}, bound: -1, priority: 1}
	if host != nil {
		e.hosts = []*platform.Host{host}
	}
	e.init(c, e, e, KindExec)
	return e
}

// NewParallelExec creates a parallel task: flops[i] are computed on hosts[i]
// and bytes[i*n+j] are sent from hosts[i] to hosts[j]. bytes may be nil. The
// remaining amount of a parallel task is the fraction left to do.
func (c *Context) NewParallelExec(hosts []*platform.Host, flops, bytes []float64) *Exec {
	e := &Exec{
		hosts:    append([]*platform.Host(nil), hosts...),
		flops:    append([]float64(nil), flops...),
		bytes:    append([]float64(nil), bytes...),
		bound:    -1,
		priority: 1,
	}
	e.init(c, e, e, KindExec)
	return e
}

// Host returns the first host of the execution, nil when none is assigned.
func (e *Exec) Host() *platform.Host {
	if len(e.hosts) == 0 {
		return nil
	}
	return e.hosts[0]
}

// Hosts returns the hosts of the execution.
func (e *Exec) Hosts() []*platform.Host { return e.hosts }

// IsParallel reports whether the execution runs as a parallel task.
func (e *Exec) IsParallel() bool { return len(e.hosts) > 1 || e.bytes != nil }

// SetHost assigns the host of a sequential execution that has not started.
func (e *Exec) SetHost(h *platform.Host) error {
	if e.state != Init && e.state != Scheduled {
		return fmt.Errorf("%w: cannot move %s while %s", ErrInvalidState, e.name, e.state)
	}
	e.hosts = []*platform.Host{h}
	e.tryAutoStart()
	return nil
}

// SetBound caps the execution rate. A non-positive bound removes the cap.
func (e *Exec) SetBound(bound float64) {
	e.bound = bound
	if e.action != nil {
		e.action.SetBound(bound)
	}
}

// SetPriority changes the share of the execution: with priority 2 it gets
// twice the share of a priority 1 execution on the same host.
func (e *Exec) SetPriority(p float64) {
	if p <= 0 {
		return
	}
	e.priority = p
	if e.action != nil {
		e.action.SetSharingPenalty(1 / p)
	}
}

// Priority returns the priority of the execution.
func (e *Exec) Priority() float64 { return e.priority }

// Rate returns the current speed of the execution.
func (e *Exec) Rate() float64 {
	if e.action == nil {
		return 0
	}
	return e.action.Rate()
}

func (e *Exec) ready() bool {
	if len(e.hosts) == 0 {
		return false
	}
	for _, h := range e.hosts {
		if h == nil {
			return false
		}
	}
	return true
}

func (e *Exec) launch() error {
	var a *resource.Action
	if !e.IsParallel() {
		a = e.hosts[0].Cpu().Execute(e.flops[0], e.bound)
	} else {
		pm := e.ctx.plat.PTaskModel()
		if pm == nil {
			return fmt.Errorf("%s: %w", e.name, resource.ErrParallelUnsupported)
		}
		cpus := make([]*resource.Cpu, len(e.hosts))
		for i, h := range e.hosts {
			cpus[i] = h.Cpu()
		}
		var err error
		a, err = pm.Execute(cpus, e.flops, e.bytes, e.bound)
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
	}
	a.SetData(e)
	if e.priority != 1 {
		a.SetSharingPenalty(1 / e.priority)
	}
	e.action = a
	return nil
}

func (e *Exec) remaining() float64 {
	if e.action != nil {
		return e.action.Remaining()
	}
	if e.IsParallel() {
		return 1
	}
	if len(e.flops) == 0 {
		return 0
	}
	return e.flops[0]
}

func (e *Exec) suspend() {
	if e.action != nil {
		e.action.Suspend()
	}
}

func (e *Exec) resume() {
	if e.action != nil {
		e.action.Resume()
	}
}

func (e *Exec) abort() {
	if e.action != nil {
		e.action.Cancel()
	}
}
