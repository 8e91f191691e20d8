// Package platform builds the simulated hardware: hosts with their processor
// and disks, links, and the routing table between hosts.
package platform

import (
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/simkernel/internal/lmm"
	"github.com/GoSim-25-26J-441/simkernel/internal/profile"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
	"github.com/GoSim-25-26J-441/simkernel/internal/routing"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// Host is a compute node: a processor, zero or more disks and free-form
// properties.
type Host struct {
	name  string
	cpu   *resource.Cpu
	disks []*resource.Disk
	props map[string]string
}

func (h *Host) Name() string             { return h.name }
func (h *Host) Cpu() *resource.Cpu       { return h.cpu }
func (h *Host) Disks() []*resource.Disk  { return h.disks }
func (h *Host) IsOn() bool               { return h.cpu.IsOn() }
func (h *Host) Speed() float64           { return h.cpu.Speed() }
func (h *Host) Cores() int               { return h.cpu.Cores() }
func (h *Host) Property(k string) string { return h.props[k] }

// SetProperty sets a free-form property.
func (h *Host) SetProperty(k, v string) { h.props[k] = v }

// TurnOff turns the processor off, failing the executions running on it. The
// engine kills the actors of the host when notified.
func (h *Host) TurnOff() { h.cpu.TurnOff() }

// TurnOn turns the processor back on.
func (h *Host) TurnOn() { h.cpu.TurnOn() }

// Disk returns the disk of the host with the given name, either local
// ("ssd") or qualified by the host ("alice/ssd").
func (h *Host) Disk(name string) (*resource.Disk, bool) {
	for _, d := range h.disks {
		if d.Name() == name || d.Name() == h.name+"/"+name {
			return d, true
		}
	}
	return nil, false
}

// Platform owns the models, the resources and the routing table of one run.
type Platform struct {
	cfg    config.KernelConfig
	clock  *utils.Clock
	events *profile.FutureEventSet
	logger *slog.Logger

	cpu    *resource.CpuModel
	net    *resource.NetworkModel
	disk   *resource.DiskModel
	ptask  *resource.PTaskModel
	router *routing.Table

	hosts     map[string]*Host
	hostOrder []*Host
	links     []*resource.Link
}

// Option configures a Platform.
type Option func(*Platform)

// WithLogger sets the logger of the platform and its models.
func WithLogger(l *slog.Logger) Option {
	return func(p *Platform) { p.logger = l }
}

// WithClock shares an existing clock.
func WithClock(c *utils.Clock) Option {
	return func(p *Platform) { p.clock = c }
}

// New creates an empty platform configured by cfg.
func New(cfg config.KernelConfig, opts ...Option) (*Platform, error) {
	p := &Platform{
		cfg:    cfg,
		events: profile.NewFutureEventSet(),
		router: routing.New(),
		hosts:  make(map[string]*Host),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.OrDefault(p.logger)
	if p.clock == nil {
		p.clock = utils.NewClock(0)
	}

	solver, err := lmm.ParseSolverKind(cfg.Solver)
	if err != nil {
		return nil, err
	}
	o := resource.Options{
		Solver:          solver,
		Precision:       cfg.Precision,
		TimingPrecision: cfg.TimingPrecision,
		MaxIterations:   cfg.BMFMaxIterations,
		Logger:          p.logger,
		Clock:           p.clock,
		Events:          p.events,
	}
	p.disk = resource.NewDiskModel(o)

	if cfg.HostModel == config.HostModelPTask {
		ptaskSolver, err := lmm.ParseSolverKind(cfg.PTaskSolver)
		if err != nil {
			return nil, err
		}
		shared := o
		shared.Solver = ptaskSolver
		shared.System = shared.NewSystem("ptask")
		p.cpu = resource.NewCpuModel(shared)
		p.net = resource.NewNetworkModel(shared, cfg.Network)
		p.ptask = resource.NewPTaskModel(shared, p.cpu, p.net)
	} else {
		p.cpu = resource.NewCpuModel(o)
		p.net = resource.NewNetworkModel(o, cfg.Network)
	}
	p.net.SetRouter(p.router)
	return p, nil
}

func (p *Platform) Clock() *utils.Clock                  { return p.clock }
func (p *Platform) Events() *profile.FutureEventSet      { return p.events }
func (p *Platform) Logger() *slog.Logger                 { return p.logger }
func (p *Platform) Config() config.KernelConfig          { return p.cfg }
func (p *Platform) CpuModel() *resource.CpuModel         { return p.cpu }
func (p *Platform) NetworkModel() *resource.NetworkModel { return p.net }
func (p *Platform) DiskModel() *resource.DiskModel       { return p.disk }
func (p *Platform) Router() *routing.Table               { return p.router }

// PTaskModel returns the parallel task model, nil unless the ptask host model
// is configured.
func (p *Platform) PTaskModel() *resource.PTaskModel { return p.ptask }

// Models returns the models in the order the engine polls them.
func (p *Platform) Models() []resource.Model {
	models := []resource.Model{p.cpu, p.net, p.disk}
	if p.ptask != nil {
		models = append(models, p.ptask)
	}
	return models
}

// OnResourceStateChange registers a hook called whenever a resource turns on
// or off.
func (p *Platform) OnResourceStateChange(h resource.StateHook) {
	p.cpu.OnStateChange(h)
	p.net.OnStateChange(h)
	p.disk.OnStateChange(h)
}

// CreateHost registers a host with the given per-core speed.
func (p *Platform) CreateHost(name string, speed float64, cores int) (*Host, error) {
	if _, ok := p.hosts[name]; ok {
		return nil, fmt.Errorf("host %s already exists", name)
	}
	if speed <= 0 {
		return nil, fmt.Errorf("host %s: speed must be positive, got %g", name, speed)
	}
	h := &Host{
		name:  name,
		cpu:   p.cpu.CreateCpu(name, speed, cores),
		props: make(map[string]string),
	}
	p.hosts[name] = h
	p.hostOrder = append(p.hostOrder, h)
	return h, nil
}

// CreateLink registers a link.
func (p *Platform) CreateLink(name string, bandwidth, latency float64, policy lmm.SharingPolicy) (*resource.Link, error) {
	if _, ok := p.net.Link(name); ok {
		return nil, fmt.Errorf("link %s already exists", name)
	}
	if bandwidth <= 0 {
		return nil, fmt.Errorf("link %s: bandwidth must be positive, got %g", name, bandwidth)
	}
	l := p.net.CreateLink(name, bandwidth, latency, policy)
	p.links = append(p.links, l)
	return l, nil
}

// CreateDisk attaches a disk to a host.
func (p *Platform) CreateDisk(host, name string, readBw, writeBw float64) (*resource.Disk, error) {
	h, ok := p.hosts[host]
	if !ok {
		return nil, fmt.Errorf("disk %s: unknown host %s", name, host)
	}
	if _, ok := h.Disk(name); ok {
		return nil, fmt.Errorf("host %s already has a disk %s", host, name)
	}
	d := p.disk.CreateDisk(host+"/"+name, host, readBw, writeBw)
	h.disks = append(h.disks, d)
	return d, nil
}

// AddRoute registers an explicit route between two hosts through the named
// links.
func (p *Platform) AddRoute(src, dst string, links []string, symmetric bool) error {
	route := make([]*resource.Link, 0, len(links))
	for _, name := range links {
		l, ok := p.net.Link(name)
		if !ok {
			return fmt.Errorf("route %s -> %s: unknown link %s", src, dst, name)
		}
		route = append(route, l)
	}
	p.router.AddRoute(src, dst, route, symmetric)
	return nil
}

// AddEdge connects two endpoints through a link for shortest path routing.
func (p *Platform) AddEdge(from, to, link string) error {
	l, ok := p.net.Link(link)
	if !ok {
		return fmt.Errorf("edge %s - %s: unknown link %s", from, to, link)
	}
	return p.router.AddEdge(from, to, l)
}

// Host returns the host registered under name.
func (p *Platform) Host(name string) (*Host, bool) {
	h, ok := p.hosts[name]
	return h, ok
}

// HostByCpu returns the host owning cpu.
func (p *Platform) HostByCpu(cpu *resource.Cpu) (*Host, bool) {
	h, ok := p.hosts[cpu.Name()]
	if !ok || h.cpu != cpu {
		return nil, false
	}
	return h, true
}

// Hosts returns the hosts in creation order.
func (p *Platform) Hosts() []*Host {
	out := make([]*Host, len(p.hostOrder))
	copy(out, p.hostOrder)
	return out
}

// Link returns the link registered under name.
func (p *Platform) Link(name string) (*resource.Link, bool) {
	return p.net.Link(name)
}

// Links returns the declared links in creation order.
func (p *Platform) Links() []*resource.Link {
	out := make([]*resource.Link, len(p.links))
	copy(out, p.links)
	return out
}

// Route returns the links between two hosts.
func (p *Platform) Route(src, dst string) ([]*resource.Link, error) {
	return p.net.Route(src, dst)
}
