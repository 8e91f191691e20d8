package simd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoSim-25-26J-441/simkernel/internal/metrics"
	"github.com/GoSim-25-26J-441/simkernel/internal/replay"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

// RunExecutor manages asynchronous run execution and per-run cancellation.
type RunExecutor struct {
	store    *RunStore
	cfg      config.KernelConfig
	logger   *slog.Logger
	notifier *Notifier
	maxRuns  int
	retained int

	registry *prometheus.Registry
	started  prometheus.Counter
	finished *prometheus.CounterVec
	running  prometheus.Gauge

	mu         sync.Mutex
	cancels    map[string]context.CancelFunc
	done       map[string]chan struct{}
	registries map[string]*prometheus.Registry
	ended      []string
	wg         sync.WaitGroup
}

// ExecutorOption configures a RunExecutor.
type ExecutorOption func(*RunExecutor)

// WithKernelConfig sets the kernel configuration of runs whose input carries
// none.
func WithKernelConfig(cfg config.KernelConfig) ExecutorOption {
	return func(e *RunExecutor) { e.cfg = cfg }
}

// WithLogger sets the executor's logger
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *RunExecutor) { e.logger = l }
}

// WithNotifier sends run completions to the callback URL of their input.
func WithNotifier(n *Notifier) ExecutorOption {
	return func(e *RunExecutor) { e.notifier = n }
}

// WithMaxRuns bounds the number of runs executing at once. 0 means no bound.
func WithMaxRuns(n int) ExecutorOption {
	return func(e *RunExecutor) { e.maxRuns = n }
}

// WithRetainedRegistries sets how many ended runs keep their kernel metrics
// exposed by Gatherer. Older ones are dropped first; 0 drops them as soon as
// the run ends.
func WithRetainedRegistries(n int) ExecutorOption {
	return func(e *RunExecutor) { e.retained = n }
}

func NewRunExecutor(store *RunStore, opts ...ExecutorOption) *RunExecutor {
	e := &RunExecutor{
		store:      store,
		cfg:        config.DefaultConfig().Kernel,
		retained:   100,
		registry:   prometheus.NewRegistry(),
		cancels:    make(map[string]context.CancelFunc),
		done:       make(map[string]chan struct{}),
		registries: make(map[string]*prometheus.Registry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.Component(logger.OrDefault(e.logger), "executor")

	e.started = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "simd",
		Name:      "runs_started_total",
		Help:      "Runs started by the daemon.",
	})
	e.finished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simd",
		Name:      "runs_finished_total",
		Help:      "Runs finished by the daemon, by final status.",
	}, []string{"status"})
	e.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "simd",
		Name:      "runs_running",
		Help:      "Runs currently executing.",
	})
	e.registry.MustRegister(e.started, e.finished, e.running)
	return e
}

// Gatherer merges the daemon metrics with the kernel metrics of every run.
func (e *RunExecutor) Gatherer() prometheus.Gatherer {
	e.mu.Lock()
	defer e.mu.Unlock()
	gs := prometheus.Gatherers{e.registry}
	for _, reg := range e.registries {
		gs = append(gs, reg)
	}
	return gs
}

// Start begins executing a run asynchronously.
// Returns the updated run state (running) or an error.
func (e *RunExecutor) Start(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.store.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	switch {
	case e.cancels[runID] != nil, rec.Run.Status == models.RunStatusRunning:
		return rec, nil
	case rec.Run.Status.IsTerminal():
		return nil, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}

	if e.maxRuns > 0 && len(e.cancels) >= e.maxRuns {
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManyRuns, e.maxRuns)
	}

	updated, err := e.store.SetStatus(runID, models.RunStatusRunning, "")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancels[runID] = cancel
	e.done[runID] = done
	e.started.Inc()
	e.running.Inc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		defer e.cleanup(runID)
		e.runSimulation(ctx, runID)
	}()
	return updated, nil
}

// Stop requests cancellation for a run and marks it cancelled.
func (e *RunExecutor) Stop(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, ErrRunIDMissing
	}

	e.mu.Lock()
	cancel, ok := e.cancels[runID]
	e.mu.Unlock()

	if ok {
		cancel()
	}

	updated, err := e.store.SetStatus(runID, models.RunStatusCancelled, "")
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Wait blocks until the run ended or ctx is done and returns its record.
func (e *RunExecutor) Wait(ctx context.Context, runID string) (*RunRecord, error) {
	e.mu.Lock()
	done, ok := e.done[runID]
	e.mu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	rec, found := e.store.Get(runID)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, nil
}

// Shutdown cancels every run in progress and waits for them to end.
func (e *RunExecutor) Shutdown() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *RunExecutor) cleanup(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	delete(e.done, runID)
	e.running.Dec()

	if _, ok := e.registries[runID]; ok {
		e.ended = append(e.ended, runID)
	}
	for len(e.ended) > 0 && len(e.ended) > e.retained {
		delete(e.registries, e.ended[0])
		e.ended = e.ended[1:]
	}
}

func (e *RunExecutor) fail(runID, msg string, err error) {
	log := e.logger.With("run_id", runID)
	log.Error(msg, "error", err)
	if _, setErr := e.store.SetStatus(runID, models.RunStatusFailed, fmt.Sprintf("%s: %v", msg, err)); setErr != nil {
		log.Error("failed to set failed status", "error", setErr)
	}
	e.finished.WithLabelValues(string(models.RunStatusFailed)).Inc()
	e.notify(runID)
}

func (e *RunExecutor) runSimulation(ctx context.Context, runID string) {
	log := e.logger.With("run_id", runID)

	rec, ok := e.store.Get(runID)
	if !ok {
		log.Error("run not found")
		return
	}

	cfg := e.cfg
	if rec.Input.ConfigYAML != "" {
		parsed, err := config.ParseConfigYAMLString(rec.Input.ConfigYAML)
		if err != nil {
			e.fail(runID, "invalid config", err)
			return
		}
		cfg = parsed.Kernel
	}

	scenario, err := config.ParseScenarioYAMLString(rec.Input.ScenarioYAML)
	if err != nil {
		e.fail(runID, "invalid scenario", err)
		return
	}
	if rec.Input.MaxDate > 0 {
		scenario.MaxDate = rec.Input.MaxDate
	}

	reg := prometheus.NewRegistry()
	kernel, err := metrics.NewKernel(reg, prometheus.Labels{"run_id": runID})
	if err != nil {
		e.fail(runID, "metrics registration failed", err)
		return
	}
	observer := metrics.NewObserver(nil, kernel)

	runner, err := replay.New(scenario, cfg,
		replay.WithRunID(runID),
		replay.WithLogger(e.logger),
		replay.WithObserver(observer))
	if err != nil {
		e.fail(runID, "scenario initialization failed", err)
		return
	}
	if err := e.store.SetObservers(runID, observer.Collector(), runner.Recorder()); err != nil {
		// the run goes on, only live inspection is lost
		log.Error("failed to attach observers", "error", err)
	}
	e.mu.Lock()
	e.registries[runID] = reg
	e.mu.Unlock()

	log.Info("starting simulation", "scenario", scenario.Name, "max_date", scenario.MaxDate)
	res, err := runner.Run(ctx)
	if err != nil {
		e.fail(runID, "simulation failed", err)
		return
	}

	if err := e.store.SetResult(runID, res, runner.Recorder().Snapshot()); err != nil {
		log.Error("failed to store result", "error", err)
	}
	e.finished.WithLabelValues(string(res.Status)).Inc()

	if _, err := e.store.SetStatus(runID, res.Status, ""); err != nil {
		if !errors.Is(err, ErrRunTerminal) {
			log.Error("failed to set final status", "error", err)
		}
	} else {
		log.Info("run finished",
			"status", res.Status,
			"final_clock", res.FinalClock,
			"actors_failed", res.ActorsFailed)
	}
	e.notify(runID)
}

func (e *RunExecutor) notify(runID string) {
	if e.notifier == nil {
		return
	}
	rec, ok := e.store.Get(runID)
	if !ok || rec.Input.CallbackURL == "" {
		return
	}
	e.notifier.Notify(rec.Input.CallbackURL, getCallbackSecret(rec), rec)
}
