package resource

import (
	"fmt"
	"math"
)

// PTaskModel serves parallel tasks: one action spanning the processors of
// several hosts and the links between them, progressing at the pace of its
// slowest part. It shares its sharing system with the CPU and network models.
type PTaskModel struct {
	*ModelBase
	cpus *CpuModel
	net  *NetworkModel
}

// NewPTaskModel creates the parallel task model on top of cpus and net. Both
// must have been created with o.System.
func NewPTaskModel(o Options, cpus *CpuModel, net *NetworkModel) *PTaskModel {
	return &PTaskModel{ModelBase: newModelBase("ptask", o), cpus: cpus, net: net}
}

// Execute starts a parallel task: flops[i] are computed on hosts[i] and
// bytes[i*n+j] are sent from hosts[i] to hosts[j]. bytes may be nil. The
// action cost is 1 and its rate is the fraction of the task done per second.
func (m *PTaskModel) Execute(hosts []*Cpu, flops, bytes []float64, rate float64) (*Action, error) {
	n := len(hosts)
	if len(flops) != n {
		return nil, fmt.Errorf("parallel task: %d hosts but %d flop amounts", n, len(flops))
	}
	if bytes != nil && len(bytes) != n*n {
		return nil, fmt.Errorf("parallel task: communication matrix needs %d entries, got %d", n*n, len(bytes))
	}
	if m.cpus.System() != m.system || m.net.System() != m.system {
		return nil, ErrParallelUnsupported
	}

	type hop struct {
		links []*Link
		bytes float64
	}
	var hops []hop
	latency := 0.0
	for i := 0; i < n && bytes != nil; i++ {
		for j := 0; j < n; j++ {
			b := bytes[i*n+j]
			if b <= 0 {
				continue
			}
			route, err := m.net.route(hosts[i].Name(), hosts[j].Name())
			if err != nil {
				return nil, err
			}
			lat := 0.0
			for _, l := range route {
				lat += l.latency
			}
			latency = math.Max(latency, lat)
			hops = append(hops, hop{links: route, bytes: b})
		}
	}

	a := newAction(m.ModelBase, 1)
	a.userBound = rate
	a.latCurrent = latency
	a.latency = latency * m.net.cfg.LatencyFactor
	penalty := 1.0
	if a.latency > 0 {
		penalty = 0
	}
	a.variable = m.system.NewVariable(a, penalty, rate)

	var used []Resource
	for i, h := range hosts {
		if flops[i] <= 0 {
			continue
		}
		m.system.ExpandAdd(h.cnst, a.variable, flops[i])
		used = append(used, h)
	}
	for _, h := range hops {
		for _, l := range h.links {
			m.system.ExpandAdd(l.cnst, a.variable, h.bytes)
			used = append(used, l)
		}
	}
	if len(used) == 0 {
		// nothing to compute nor to send
		a.remaining = 0
	}
	m.start(a)
	validateStart(a, used...)
	return a, nil
}
