package platform

import (
	"fmt"

	"github.com/GoSim-25-26J-441/simkernel/internal/lmm"
	"github.com/GoSim-25-26J-441/simkernel/internal/profile"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
)

// Build creates a platform and populates it from a platform description:
// hosts with their disks, links, routes, edges and the profiles attached to
// them. Routers only exist as graph endpoints and need no declaration beyond
// the edges that use them.
func Build(cfg config.KernelConfig, desc *config.Platform, opts ...Option) (*Platform, error) {
	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	for _, hc := range desc.Hosts {
		h, err := p.CreateHost(hc.Name, hc.Speed, hc.Cores)
		if err != nil {
			return nil, err
		}
		for k, v := range hc.Properties {
			h.SetProperty(k, v)
		}
		for _, dc := range hc.Disks {
			if _, err := p.CreateDisk(hc.Name, dc.Name, dc.ReadBandwidth, dc.WriteBandwidth); err != nil {
				return nil, err
			}
		}
		if hc.SpeedProfile != nil {
			prof, err := profile.FromConfig(hc.Name+"/speed", hc.SpeedProfile)
			if err != nil {
				return nil, fmt.Errorf("host %s: %w", hc.Name, err)
			}
			h.cpu.SetSpeedProfile(prof)
		}
		if hc.StateProfile != nil {
			prof, err := profile.FromConfig(hc.Name+"/state", hc.StateProfile)
			if err != nil {
				return nil, fmt.Errorf("host %s: %w", hc.Name, err)
			}
			h.cpu.SetStateProfile(prof)
		}
	}

	for _, lc := range desc.Links {
		policy, err := parseSharing(lc.Sharing)
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", lc.Name, err)
		}
		l, err := p.CreateLink(lc.Name, lc.Bandwidth, lc.Latency, policy)
		if err != nil {
			return nil, err
		}
		if lc.BandwidthProfile != nil {
			prof, err := profile.FromConfig(lc.Name+"/bandwidth", lc.BandwidthProfile)
			if err != nil {
				return nil, fmt.Errorf("link %s: %w", lc.Name, err)
			}
			l.SetBandwidthProfile(prof)
		}
		if lc.LatencyProfile != nil {
			prof, err := profile.FromConfig(lc.Name+"/latency", lc.LatencyProfile)
			if err != nil {
				return nil, fmt.Errorf("link %s: %w", lc.Name, err)
			}
			l.SetLatencyProfile(prof)
		}
		if lc.StateProfile != nil {
			prof, err := profile.FromConfig(lc.Name+"/state", lc.StateProfile)
			if err != nil {
				return nil, fmt.Errorf("link %s: %w", lc.Name, err)
			}
			l.SetStateProfile(prof)
		}
	}

	for _, rc := range desc.Routes {
		if err := p.AddRoute(rc.Src, rc.Dst, rc.Links, rc.IsSymmetric()); err != nil {
			return nil, err
		}
	}
	for _, ec := range desc.Edges {
		if err := p.AddEdge(ec.From, ec.To, ec.Link); err != nil {
			return nil, err
		}
	}

	p.logger.Info("platform built",
		"hosts", len(p.hostOrder),
		"links", len(p.links),
		"routes", len(desc.Routes),
		"edges", len(desc.Edges),
		"host_model", cfg.HostModel)
	return p, nil
}

func parseSharing(s string) (lmm.SharingPolicy, error) {
	switch s {
	case "", "shared":
		return lmm.Shared, nil
	case "fatpipe":
		return lmm.Fatpipe, nil
	default:
		return lmm.Shared, fmt.Errorf("unknown sharing policy %q", s)
	}
}
