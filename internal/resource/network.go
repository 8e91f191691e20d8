package resource

import (
	"fmt"

	"github.com/GoSim-25-26J-441/simkernel/internal/lmm"
	"github.com/GoSim-25-26J-441/simkernel/internal/profile"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
)

// LoopbackName is the name of the link used by transfers within one host.
const LoopbackName = "__loopback__"

// crosstrafficWeight is the share of a flow's bandwidth consumed on the
// reverse route by acknowledgments.
const crosstrafficWeight = 0.05

// Router resolves the ordered list of links between two hosts.
type Router interface {
	Route(src, dst string) ([]*Link, error)
}

// NetworkModel is a CM02-style flow model: a transfer first pays the route
// latency, then shares the bandwidth of every link on the route.
type NetworkModel struct {
	*ModelBase
	cfg      config.NetworkConfig
	router   Router
	loopback *Link
}

// NewNetworkModel creates the network model and its loopback link.
func NewNetworkModel(o Options, cfg config.NetworkConfig) *NetworkModel {
	def := config.DefaultConfig().Kernel.Network
	if cfg.LatencyFactor <= 0 {
		cfg.LatencyFactor = def.LatencyFactor
	}
	if cfg.BandwidthFactor <= 0 {
		cfg.BandwidthFactor = def.BandwidthFactor
	}
	if cfg.LoopbackBandwidth <= 0 {
		cfg.LoopbackBandwidth = def.LoopbackBandwidth
	}
	m := &NetworkModel{ModelBase: newModelBase("network", o), cfg: cfg}
	m.loopback = m.CreateLink(LoopbackName, cfg.LoopbackBandwidth, cfg.LoopbackLatency, lmm.Fatpipe)
	return m
}

// SetRouter installs the route resolver.
func (m *NetworkModel) SetRouter(r Router) { m.router = r }

// Loopback returns the link used for transfers within one host.
func (m *NetworkModel) Loopback() *Link { return m.loopback }

// Config returns the model factors.
func (m *NetworkModel) Config() config.NetworkConfig { return m.cfg }

// Link is a network link with a bandwidth, a latency and a sharing policy.
type Link struct {
	Base
	latency        float64
	bandwidthEvent *profile.Event
	latencyEvent   *profile.Event
}

// CreateLink registers a link. Bandwidth is in bytes/s and latency in seconds.
func (m *NetworkModel) CreateLink(name string, bandwidth, latency float64, policy lmm.SharingPolicy) *Link {
	l := &Link{latency: latency}
	l.init(l, m.ModelBase, name, bandwidth, func() float64 {
		return l.peak * l.scale
	})
	l.cnst.SetSharingPolicy(policy, nil)
	return l
}

// Link returns the link registered under name.
func (m *NetworkModel) Link(name string) (*Link, bool) {
	r, ok := m.Resource(name)
	if !ok {
		return nil, false
	}
	l, ok := r.(*Link)
	return l, ok
}

func (l *Link) Bandwidth() float64                   { return l.peak }
func (l *Link) Latency() float64                     { return l.latency }
func (l *Link) SharingPolicy() lmm.SharingPolicy     { return l.cnst.SharingPolicy() }
func (l *Link) SetBandwidth(bandwidth float64)       { l.setPeak(bandwidth) }
func (l *Link) SetLatency(latency float64)           { l.latency = latency }
func (l *Link) SetSharingPolicy(p lmm.SharingPolicy) { l.cnst.SetSharingPolicy(p, nil) }

// SetBandwidthProfile schedules bandwidth scale changes.
func (l *Link) SetBandwidthProfile(p *profile.Profile) {
	l.bandwidthEvent = reschedule(l.bandwidthEvent, p, l.model.events, l)
}

// SetLatencyProfile schedules latency changes; values are latencies in seconds
// and only affect transfers started afterwards.
func (l *Link) SetLatencyProfile(p *profile.Profile) {
	l.latencyEvent = reschedule(l.latencyEvent, p, l.model.events, l)
}

func (l *Link) ApplyEvent(ev *profile.Event, value float64) {
	switch {
	case ev == l.bandwidthEvent:
		l.SetScale(value)
	case ev == l.latencyEvent:
		l.SetLatency(value)
	case l.applyStateEvent(ev, value):
	default:
		l.unknownEvent(ev)
	}
}

// Communicate starts a transfer of size bytes between two hosts. A positive
// rate caps the transfer bandwidth.
func (m *NetworkModel) Communicate(src, dst string, size, rate float64) (*Action, error) {
	route, err := m.route(src, dst)
	if err != nil {
		return nil, err
	}

	latency := 0.0
	minBandwidth := -1.0
	for _, l := range route {
		latency += l.latency
		if minBandwidth < 0 || l.Bandwidth() < minBandwidth {
			minBandwidth = l.Bandwidth()
		}
	}

	a := newAction(m.ModelBase, size)
	a.latCurrent = latency
	a.latency = latency * m.cfg.LatencyFactor
	a.userBound = rate
	if m.cfg.WeightS > 0 {
		// RTT unfairness: flows on long or narrow routes get a smaller share.
		a.penalty = latency
		for _, l := range route {
			a.penalty += m.cfg.WeightS / l.Bandwidth()
		}
	}

	bandwidthBound := -1.0
	if m.cfg.BandwidthFactor != 1 && minBandwidth > 0 {
		bandwidthBound = m.cfg.BandwidthFactor * minBandwidth
	}
	gamma := m.cfg.TCPGamma
	a.capBound = func(user float64) float64 {
		window := -1.0
		if gamma > 0 && a.latCurrent > 0 {
			window = gamma / (2 * a.latCurrent)
		}
		return minPositive(user, window, bandwidthBound)
	}

	penalty := a.penalty
	if a.latency > 0 {
		penalty = 0
	}
	a.variable = m.system.NewVariable(a, penalty, a.capBound(rate))
	for _, l := range route {
		m.system.Expand(l.cnst, a.variable, 1)
	}
	if m.cfg.Crosstraffic && src != dst {
		if back, err := m.route(dst, src); err == nil {
			for _, l := range back {
				m.system.ExpandAdd(l.cnst, a.variable, crosstrafficWeight)
			}
		}
	}
	m.start(a)

	rs := make([]Resource, len(route))
	for i, l := range route {
		rs[i] = l
	}
	validateStart(a, rs...)
	return a, nil
}

// Route returns the links between two hosts, the loopback link when they are
// the same host.
func (m *NetworkModel) Route(src, dst string) ([]*Link, error) {
	return m.route(src, dst)
}

func (m *NetworkModel) route(src, dst string) ([]*Link, error) {
	if src == dst {
		return []*Link{m.loopback}, nil
	}
	if m.router == nil {
		return nil, fmt.Errorf("%w from %s to %s: no router installed", ErrNoRoute, src, dst)
	}
	route, err := m.router.Route(src, dst)
	if err != nil {
		return nil, err
	}
	return route, nil
}

// minPositive returns the smallest positive value, or -1 when none is positive.
func minPositive(values ...float64) float64 {
	best := -1.0
	for _, v := range values {
		if v > 0 && (best < 0 || v < best) {
			best = v
		}
	}
	return best
}

func reschedule(old *profile.Event, p *profile.Profile, fes *profile.FutureEventSet, target Resource) *profile.Event {
	if old != nil {
		old.Unschedule()
	}
	if p == nil {
		return nil
	}
	return p.Schedule(fes, target)
}
