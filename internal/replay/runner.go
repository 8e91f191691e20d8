// Package replay runs scenarios: actors described in YAML as a list of steps,
// executed on a platform built from the scenario's description.
package replay

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/exp/rand"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/internal/engine"
	"github.com/GoSim-25-26J-441/simkernel/internal/platform"
	"github.com/GoSim-25-26J-441/simkernel/internal/policy"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
	"github.com/GoSim-25-26J-441/simkernel/internal/trace"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// Runner executes one scenario. It is single use: build it, run it, read the
// result and the trace.
type Runner struct {
	scenario  *config.Scenario
	logger    *slog.Logger
	runID     string
	policy    engine.Policy
	observers []engine.Observer

	engine   *engine.Engine
	recorder *trace.Recorder
	jitter   func() float64

	actors     map[string]*engine.Actor
	mutexes    map[string]*activity.Mutex
	semaphores map[string]*activity.Semaphore
	barriers   map[string]*activity.Barrier
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger of the runner, the platform and the engine.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithRunID tags the run.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// WithPolicy sets the simcall ordering policy of the engine.
func WithPolicy(p engine.Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithObserver subscribes o to the engine signals, in addition to the trace
// recorder every runner carries.
func WithObserver(o engine.Observer) Option {
	return func(r *Runner) { r.observers = append(r.observers, o) }
}

// New builds the platform and the engine of scenario and spawns its actors.
// The scenario is expected to be validated, as the config loaders do.
func New(scenario *config.Scenario, cfg config.KernelConfig, opts ...Option) (*Runner, error) {
	if scenario == nil || scenario.Platform == nil {
		return nil, fmt.Errorf("scenario has no platform")
	}
	r := &Runner{
		scenario:   scenario,
		actors:     make(map[string]*engine.Actor),
		mutexes:    make(map[string]*activity.Mutex),
		semaphores: make(map[string]*activity.Semaphore),
		barriers:   make(map[string]*activity.Barrier),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = utils.GenerateRunID()
	}
	base := logger.OrDefault(r.logger)
	r.logger = logger.Component(base, "replay").With("run_id", r.runID)

	plat, err := platform.Build(cfg, scenario.Platform, platform.WithLogger(base))
	if err != nil {
		return nil, fmt.Errorf("failed to build platform: %w", err)
	}

	r.recorder = trace.NewRecorder(r.runID)
	engOpts := []engine.Option{
		engine.WithLogger(base),
		engine.WithRunID(r.runID),
		engine.WithObserver(r.recorder),
	}
	if r.policy != nil {
		engOpts = append(engOpts, engine.WithPolicy(r.policy))
	}
	for _, o := range r.observers {
		engOpts = append(engOpts, engine.WithObserver(o))
	}
	r.engine = engine.New(plat, engOpts...)

	if scenario.Seed != 0 {
		r.jitter = rand.New(rand.NewSource(scenario.Seed)).Float64
	}

	for _, name := range scenario.Mutexes {
		r.mutexes[name] = r.engine.NewMutex(name)
	}
	for _, s := range scenario.Semaphores {
		r.semaphores[s.Name] = r.engine.NewSemaphore(s.Name, s.Capacity)
	}
	for _, b := range scenario.Barriers {
		r.barriers[b.Name] = r.engine.NewBarrier(b.Name, b.Count)
	}

	for _, ac := range scenario.Actors {
		host, ok := plat.Host(ac.Host)
		if !ok {
			return nil, fmt.Errorf("actor %s: unknown host %s", ac.Name, ac.Host)
		}
		var aopts []engine.ActorOption
		if ac.Start > 0 {
			aopts = append(aopts, engine.StartAt(ac.Start))
		}
		if ac.KillTime > 0 {
			aopts = append(aopts, engine.KillAt(ac.KillTime))
		}
		if ac.Daemon {
			aopts = append(aopts, engine.AsDaemon())
		}
		r.actors[ac.Name] = r.engine.Spawn(ac.Name, host, r.body(ac), aopts...)
	}

	r.logger.Info("Scenario loaded",
		"scenario", scenario.Name,
		"hosts", len(scenario.Platform.Hosts),
		"actors", len(scenario.Actors))
	return r, nil
}

// Engine returns the engine running the scenario.
func (r *Runner) Engine() *engine.Engine { return r.engine }

// Recorder returns the trace recorder of the run.
func (r *Runner) Recorder() *trace.Recorder { return r.recorder }

// RunID returns the id of the run.
func (r *Runner) RunID() string { return r.runID }

// Run simulates the scenario up to its max_date, or to completion when it has
// none. Actors still alive at max_date are listed in the result, then killed.
func (r *Runner) Run(ctx context.Context) (*models.RunResult, error) {
	until := r.scenario.MaxDate
	if until <= 0 {
		until = -1
	}
	status, err := r.engine.RunUntil(ctx, until)
	if err != nil {
		return nil, err
	}
	res := r.result(status)
	if status == engine.StatusTimeLimit {
		r.engine.Shutdown()
	}
	r.logger.Info("Scenario finished",
		"status", res.Status,
		"clock", res.FinalClock,
		"actors_failed", res.ActorsFailed)
	return res, nil
}

func (r *Runner) result(status engine.Status) *models.RunResult {
	created, failed := r.engine.RunManager().ActorCounts()
	res := &models.RunResult{
		Status:         engine.RunStatusOf(status),
		FinalClock:     r.engine.Now(),
		ActorsCreated:  created,
		ActorsFailed:   failed,
		Activities:     r.recorder.Activities(),
		CompletionTime: utils.Summarize(r.recorder.FinishDates()),
	}
	for _, a := range r.engine.Actors() {
		res.ActorsAlive = append(res.ActorsAlive, a.Name())
	}
	return res
}

// Run is New followed by Runner.Run.
func Run(ctx context.Context, scenario *config.Scenario, cfg config.KernelConfig, opts ...Option) (*models.RunResult, *trace.Trace, error) {
	r, err := New(scenario, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	res, err := r.Run(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res, r.recorder.Snapshot(), nil
}

func (r *Runner) body(ac config.Actor) func(*engine.Actor) error {
	rounds := ac.Repeat
	if rounds < 1 {
		rounds = 1
	}
	return func(a *engine.Actor) error {
		for round := 0; round < rounds; round++ {
			for i, st := range ac.Steps {
				if err := r.step(a, st); err != nil {
					return fmt.Errorf("step %d (%s): %w", i, st.Op, err)
				}
			}
		}
		return nil
	}
}

// step performs st, retrying transient failures as the step asks.
func (r *Runner) step(a *engine.Actor, st config.Step) error {
	retry := policy.NewRetryPolicyFromStep(st, r.jitter)
	for attempt := 0; ; attempt++ {
		err := r.perform(a, st)
		if !retry.ShouldRetry(attempt, err) {
			return err
		}
		delay := retry.Delay(attempt + 1)
		r.logger.Debug("Retrying step",
			"actor", a.Name(),
			"op", st.Op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
			"clock", a.Now())
		a.Sleep(delay)
	}
}

// timeout converts a step timeout, where 0 means none, to the engine's
// convention.
func timeout(st config.Step) float64 {
	if st.Timeout > 0 {
		return st.Timeout
	}
	return -1
}

func (r *Runner) perform(a *engine.Actor, st config.Step) error {
	switch st.Op {
	case config.OpExecute:
		var opts []engine.ExecOption
		if st.Bound > 0 {
			opts = append(opts, engine.WithBound(st.Bound))
		}
		if st.Priority > 0 {
			opts = append(opts, engine.WithPriority(st.Priority))
		}
		return a.Execute(st.Amount, opts...)

	case config.OpSend:
		var opts []activity.SendOption
		if st.Rate > 0 {
			opts = append(opts, activity.WithRate(st.Rate))
		}
		if st.Detached {
			a.SendDetached(st.Mailbox, st.Amount, a.Name(), opts...)
			return nil
		}
		return a.SendFor(st.Mailbox, st.Amount, a.Name(), timeout(st), opts...)

	case config.OpRecv:
		_, err := a.RecvFor(st.Mailbox, timeout(st))
		return err

	case config.OpRead:
		return a.Read(st.Disk, st.Amount)

	case config.OpWrite:
		return a.Write(st.Disk, st.Amount)

	case config.OpSleep:
		a.Sleep(st.Amount)
		return nil

	case config.OpYield:
		a.Yield()
		return nil

	case config.OpLock:
		m, err := lookup(r.mutexes, "mutex", st.Object)
		if err != nil {
			return err
		}
		return a.Lock(m)

	case config.OpUnlock:
		m, err := lookup(r.mutexes, "mutex", st.Object)
		if err != nil {
			return err
		}
		return a.Unlock(m)

	case config.OpAcquire:
		s, err := lookup(r.semaphores, "semaphore", st.Object)
		if err != nil {
			return err
		}
		return a.AcquireTimeout(s, timeout(st))

	case config.OpRelease:
		s, err := lookup(r.semaphores, "semaphore", st.Object)
		if err != nil {
			return err
		}
		a.Release(s)
		return nil

	case config.OpBarrier:
		b, err := lookup(r.barriers, "barrier", st.Object)
		if err != nil {
			return err
		}
		_, err = a.BarrierWait(b)
		return err

	case config.OpSuspend, config.OpResume, config.OpKill:
		target, err := lookup(r.actors, "actor", st.Target)
		if err != nil {
			return err
		}
		switch st.Op {
		case config.OpSuspend:
			return a.Suspend(target)
		case config.OpResume:
			return a.Resume(target)
		}
		a.Kill(target)
		return nil

	case config.OpMigrate:
		host, err := r.host(st.Target)
		if err != nil {
			return err
		}
		a.Migrate(host)
		return nil

	case config.OpSetSpeed:
		host, err := r.host(st.Target)
		if err != nil {
			return err
		}
		host.Cpu().SetSpeed(st.Amount)
		return nil

	case config.OpTurnOff, config.OpTurnOn:
		res, err := r.switchable(st.Target)
		if err != nil {
			return err
		}
		if st.Op == config.OpTurnOff {
			res.TurnOff()
		} else {
			res.TurnOn()
		}
		return nil

	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

func lookup[T any](m map[string]T, kind, name string) (T, error) {
	v, ok := m[name]
	if !ok {
		return v, fmt.Errorf("unknown %s %s", kind, name)
	}
	return v, nil
}

func (r *Runner) host(name string) (*platform.Host, error) {
	h, ok := r.engine.Platform().Host(name)
	if !ok {
		return nil, fmt.Errorf("unknown host %s", name)
	}
	return h, nil
}

// switchable resolves a host or link that a step turns on or off.
func (r *Runner) switchable(name string) (resource.Resource, error) {
	plat := r.engine.Platform()
	if h, ok := plat.Host(name); ok {
		return h.Cpu(), nil
	}
	if l, ok := plat.Link(name); ok {
		return l, nil
	}
	return nil, fmt.Errorf("unknown host or link %s", name)
}
