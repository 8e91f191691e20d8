package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadPlatform loads and parses a platform file
func LoadPlatform(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform file %s: %w", path, err)
	}
	plat, err := ParsePlatformYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse platform file %s: %w", path, err)
	}
	return plat, nil
}

// LoadScenario loads and parses a scenario file. A platform_file entry is
// resolved relative to the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	scenario, err := decodeScenario(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}
	if scenario.Platform == nil && scenario.PlatformFile != "" {
		platPath := scenario.PlatformFile
		if !filepath.IsAbs(platPath) {
			platPath = filepath.Join(filepath.Dir(path), platPath)
		}
		plat, err := LoadPlatform(platPath)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", path, err)
		}
		scenario.Platform = plat
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario file %s: %w", path, err)
	}
	return scenario, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSolvers = map[string]bool{
	SolverMaxMin: true,
	SolverBMF:    true,
}

// validateConfig performs validation on the configuration and reports every
// problem found.
func validateConfig(cfg *Config) error {
	var errs error

	if !validLogLevels[cfg.LogLevel] {
		errs = multierr.Append(errs, fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel))
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		errs = multierr.Append(errs, fmt.Errorf("invalid log_format: %s (must be json or text)", cfg.LogFormat))
	}

	k := cfg.Kernel
	if k.HostModel != "" && k.HostModel != HostModelDefault && k.HostModel != HostModelPTask {
		errs = multierr.Append(errs, fmt.Errorf("kernel host_model must be default or ptask, got %q", k.HostModel))
	}
	if !validSolvers[k.Solver] {
		errs = multierr.Append(errs, fmt.Errorf("kernel solver must be maxmin or bmf, got %q", k.Solver))
	}
	if !validSolvers[k.PTaskSolver] {
		errs = multierr.Append(errs, fmt.Errorf("kernel ptask_solver must be maxmin or bmf, got %q", k.PTaskSolver))
	}
	if k.Precision <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("kernel precision must be positive, got %g", k.Precision))
	}
	if k.TimingPrecision <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("kernel timing_precision must be positive, got %g", k.TimingPrecision))
	}
	if k.BMFMaxIterations <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("kernel bmf_max_iterations must be positive, got %d", k.BMFMaxIterations))
	}

	n := k.Network
	if n.LatencyFactor < 0 {
		errs = multierr.Append(errs, fmt.Errorf("network latency_factor cannot be negative, got %g", n.LatencyFactor))
	}
	if n.BandwidthFactor <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("network bandwidth_factor must be positive, got %g", n.BandwidthFactor))
	}
	if n.WeightS < 0 {
		errs = multierr.Append(errs, fmt.Errorf("network weight_s cannot be negative, got %g", n.WeightS))
	}
	if n.TCPGamma < 0 {
		errs = multierr.Append(errs, fmt.Errorf("network tcp_gamma cannot be negative, got %g", n.TCPGamma))
	}
	if n.LoopbackBandwidth <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("network loopback_bandwidth must be positive, got %g", n.LoopbackBandwidth))
	}
	if n.LoopbackLatency < 0 {
		errs = multierr.Append(errs, fmt.Errorf("network loopback_latency cannot be negative, got %g", n.LoopbackLatency))
	}

	if cfg.Daemon.MaxRuns < 0 {
		errs = multierr.Append(errs, fmt.Errorf("daemon max_runs cannot be negative, got %d", cfg.Daemon.MaxRuns))
	}

	return errs
}

// validatePlatform checks names, capacities, routes and profiles.
func validatePlatform(p *Platform) error {
	var errs error

	if len(p.Hosts) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("at least one host must be defined"))
	}

	endpoints := make(map[string]bool)
	disks := make(map[string]bool)
	for i, h := range p.Hosts {
		if h.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("host %d: name cannot be empty", i))
			continue
		}
		if endpoints[h.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate host name: %s", h.Name))
		}
		endpoints[h.Name] = true
		if h.Speed <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("host %s: speed must be positive, got %g", h.Name, h.Speed))
		}
		if h.Cores < 0 {
			errs = multierr.Append(errs, fmt.Errorf("host %s: cores cannot be negative, got %d", h.Name, h.Cores))
		}
		for _, d := range h.Disks {
			if d.Name == "" {
				errs = multierr.Append(errs, fmt.Errorf("host %s: disk name cannot be empty", h.Name))
				continue
			}
			if disks[d.Name] {
				errs = multierr.Append(errs, fmt.Errorf("duplicate disk name: %s", d.Name))
			}
			disks[d.Name] = true
			if d.ReadBandwidth <= 0 || d.WriteBandwidth <= 0 {
				errs = multierr.Append(errs, fmt.Errorf("disk %s: read_bw and write_bw must be positive", d.Name))
			}
		}
		errs = multierr.Append(errs, validateProfile("host "+h.Name+" speed_profile", h.SpeedProfile, false))
		errs = multierr.Append(errs, validateProfile("host "+h.Name+" state_profile", h.StateProfile, true))
	}

	for _, r := range p.Routers {
		if r == "" {
			errs = multierr.Append(errs, fmt.Errorf("router name cannot be empty"))
			continue
		}
		if endpoints[r] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate endpoint name: %s", r))
		}
		endpoints[r] = true
	}

	links := make(map[string]bool)
	for i, l := range p.Links {
		if l.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("link %d: name cannot be empty", i))
			continue
		}
		if links[l.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate link name: %s", l.Name))
		}
		links[l.Name] = true
		if l.Bandwidth <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("link %s: bandwidth must be positive, got %g", l.Name, l.Bandwidth))
		}
		if l.Latency < 0 {
			errs = multierr.Append(errs, fmt.Errorf("link %s: latency cannot be negative, got %g", l.Name, l.Latency))
		}
		if l.Sharing != "" && l.Sharing != "shared" && l.Sharing != "fatpipe" {
			errs = multierr.Append(errs, fmt.Errorf("link %s: sharing must be shared or fatpipe, got %s", l.Name, l.Sharing))
		}
		errs = multierr.Append(errs, validateProfile("link "+l.Name+" bandwidth_profile", l.BandwidthProfile, false))
		errs = multierr.Append(errs, validateProfile("link "+l.Name+" latency_profile", l.LatencyProfile, false))
		errs = multierr.Append(errs, validateProfile("link "+l.Name+" state_profile", l.StateProfile, true))
	}

	for i, r := range p.Routes {
		if !endpoints[r.Src] {
			errs = multierr.Append(errs, fmt.Errorf("route %d: unknown src %s", i, r.Src))
		}
		if !endpoints[r.Dst] {
			errs = multierr.Append(errs, fmt.Errorf("route %d: unknown dst %s", i, r.Dst))
		}
		for _, name := range r.Links {
			if !links[name] {
				errs = multierr.Append(errs, fmt.Errorf("route %d: unknown link %s", i, name))
			}
		}
	}

	for i, e := range p.Edges {
		if !endpoints[e.From] || !endpoints[e.To] {
			errs = multierr.Append(errs, fmt.Errorf("edge %d: unknown endpoint in %s -> %s", i, e.From, e.To))
		}
		if !links[e.Link] {
			errs = multierr.Append(errs, fmt.Errorf("edge %d: unknown link %s", i, e.Link))
		}
	}

	return errs
}

var validDistributions = map[string]int{
	"constant":    1,
	"exponential": 1,
	"uniform":     2,
	"normal":      2,
}

func validateProfile(where string, p *Profile, state bool) error {
	if p == nil {
		return nil
	}
	var errs error
	if p.Stochastic != nil && len(p.Events) > 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s: events and stochastic are mutually exclusive", where))
	}
	if p.Stochastic == nil && len(p.Events) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s: profile has no events", where))
	}
	last := 0.0
	for i, ev := range p.Events {
		if ev.Date < last {
			errs = multierr.Append(errs, fmt.Errorf("%s: event %d date %g is before %g", where, i, ev.Date, last))
		}
		last = ev.Date
		if state && ev.Value != 0 && ev.Value != 1 {
			errs = multierr.Append(errs, fmt.Errorf("%s: state values must be 0 or 1, got %g", where, ev.Value))
		}
		if !state && ev.Value < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s: value cannot be negative, got %g", where, ev.Value))
		}
	}
	if p.Period < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s: period cannot be negative", where))
	}
	if p.Period > 0 && len(p.Events) > 0 && last >= p.Period {
		errs = multierr.Append(errs, fmt.Errorf("%s: period %g must exceed the last event date %g", where, p.Period, last))
	}
	if s := p.Stochastic; s != nil {
		errs = multierr.Append(errs, validateDistribution(where+" delay", s.Delay))
		errs = multierr.Append(errs, validateDistribution(where+" value", s.Value))
		if s.Count < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s: count cannot be negative", where))
		}
	}
	return errs
}

func validateDistribution(where string, d Distribution) error {
	n, ok := validDistributions[d.Kind]
	if !ok {
		return fmt.Errorf("%s: unknown distribution %q", where, d.Kind)
	}
	if len(d.Params) != n {
		return fmt.Errorf("%s: %s takes %d parameters, got %d", where, d.Kind, n, len(d.Params))
	}
	switch d.Kind {
	case "exponential":
		if d.Params[0] <= 0 {
			return fmt.Errorf("%s: exponential rate must be positive", where)
		}
	case "uniform":
		if d.Params[0] > d.Params[1] {
			return fmt.Errorf("%s: uniform min exceeds max", where)
		}
	case "normal":
		if d.Params[1] < 0 {
			return fmt.Errorf("%s: normal sigma cannot be negative", where)
		}
	}
	return nil
}

var validBackoffs = map[string]bool{
	"":            true,
	"exponential": true,
	"linear":      true,
	"constant":    true,
}

// validateScenario validates the platform and every actor step against it.
func validateScenario(s *Scenario) error {
	var errs error

	if s.Platform == nil {
		return fmt.Errorf("scenario must define a platform or platform_file")
	}
	if err := validatePlatform(s.Platform); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("platform: %w", err))
	}
	if s.MaxDate < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_date cannot be negative, got %g", s.MaxDate))
	}

	hosts := make(map[string]bool)
	disks := make(map[string]bool)
	for _, h := range s.Platform.Hosts {
		hosts[h.Name] = true
		for _, d := range h.Disks {
			disks[d.Name] = true
		}
	}
	links := make(map[string]bool)
	for _, l := range s.Platform.Links {
		links[l.Name] = true
	}

	mutexes := make(map[string]bool)
	for _, m := range s.Mutexes {
		if mutexes[m] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate mutex: %s", m))
		}
		mutexes[m] = true
	}
	semaphores := make(map[string]bool)
	for _, sem := range s.Semaphores {
		if semaphores[sem.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate semaphore: %s", sem.Name))
		}
		semaphores[sem.Name] = true
		if sem.Capacity < 0 {
			errs = multierr.Append(errs, fmt.Errorf("semaphore %s: capacity cannot be negative", sem.Name))
		}
	}
	barriers := make(map[string]bool)
	for _, b := range s.Barriers {
		if barriers[b.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate barrier: %s", b.Name))
		}
		barriers[b.Name] = true
		if b.Count <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("barrier %s: count must be positive", b.Name))
		}
	}

	if len(s.Actors) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("at least one actor must be defined"))
	}
	actors := make(map[string]bool)
	for _, a := range s.Actors {
		if a.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("actor name cannot be empty"))
			continue
		}
		if actors[a.Name] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate actor name: %s", a.Name))
		}
		actors[a.Name] = true
	}

	for _, a := range s.Actors {
		if !hosts[a.Host] {
			errs = multierr.Append(errs, fmt.Errorf("actor %s: unknown host %s", a.Name, a.Host))
		}
		if a.Start < 0 || a.KillTime < 0 || a.Repeat < 0 {
			errs = multierr.Append(errs, fmt.Errorf("actor %s: start, kill_time and repeat cannot be negative", a.Name))
		}
		for i, st := range a.Steps {
			where := fmt.Sprintf("actor %s step %d (%s)", a.Name, i, st.Op)
			if !validOps[st.Op] {
				errs = multierr.Append(errs, fmt.Errorf("actor %s step %d: unknown op %q", a.Name, i, st.Op))
				continue
			}
			if st.Amount < 0 || st.Timeout < 0 || st.Rate < 0 || st.Bound < 0 || st.Priority < 0 || st.Retries < 0 || st.RetryDelay < 0 {
				errs = multierr.Append(errs, fmt.Errorf("%s: numeric fields cannot be negative", where))
			}
			if !validBackoffs[st.Backoff] {
				errs = multierr.Append(errs, fmt.Errorf("%s: invalid backoff type %s", where, st.Backoff))
			}
			switch st.Op {
			case OpSend, OpRecv:
				if st.Mailbox == "" {
					errs = multierr.Append(errs, fmt.Errorf("%s: mailbox is required", where))
				}
			case OpRead, OpWrite:
				if !disks[st.Disk] {
					errs = multierr.Append(errs, fmt.Errorf("%s: unknown disk %s", where, st.Disk))
				}
			case OpLock, OpUnlock:
				if !mutexes[st.Object] {
					errs = multierr.Append(errs, fmt.Errorf("%s: unknown mutex %s", where, st.Object))
				}
			case OpAcquire, OpRelease:
				if !semaphores[st.Object] {
					errs = multierr.Append(errs, fmt.Errorf("%s: unknown semaphore %s", where, st.Object))
				}
			case OpBarrier:
				if !barriers[st.Object] {
					errs = multierr.Append(errs, fmt.Errorf("%s: unknown barrier %s", where, st.Object))
				}
			case OpSuspend, OpResume, OpKill:
				if !actors[st.Target] {
					errs = multierr.Append(errs, fmt.Errorf("%s: unknown actor %s", where, st.Target))
				}
			case OpMigrate, OpSetSpeed:
				if !hosts[st.Target] {
					errs = multierr.Append(errs, fmt.Errorf("%s: unknown host %s", where, st.Target))
				}
			case OpTurnOff, OpTurnOn:
				if !hosts[st.Target] && !links[st.Target] {
					errs = multierr.Append(errs, fmt.Errorf("%s: unknown host or link %s", where, st.Target))
				}
			}
		}
	}

	return errs
}
