package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GoSim-25-26J-441/simkernel/internal/engine"
	"github.com/GoSim-25-26J-441/simkernel/internal/metrics"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

const eps = 1e-6

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const platformYAML = `
platform:
  hosts:
    - name: a
      speed: 1e9
      disks:
        - {name: hdd, read_bw: 2e8, write_bw: 1e8}
    - name: b
      speed: 1e9
  links:
    - name: wire
      bandwidth: 1e6
      latency: 0
  routes:
    - {src: a, dst: b, links: [wire]}
`

func parse(t *testing.T, body string) *config.Scenario {
	t.Helper()
	sc, err := config.ParseScenarioYAMLString(platformYAML + body)
	require.NoError(t, err)
	return sc
}

func runScenario(t *testing.T, sc *config.Scenario, opts ...Option) (*models.RunResult, *Runner) {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard()), WithRunID("replay-test")}, opts...)
	r, err := New(sc, config.DefaultConfig().Kernel, opts...)
	require.NoError(t, err)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	return res, r
}

func countRecords(res *models.RunResult, kind, state string) int {
	n := 0
	for _, rec := range res.Activities {
		if rec.Kind == kind && rec.State == state {
			n++
		}
	}
	return n
}

func TestExecuteThenSleep(t *testing.T) {
	res, r := runScenario(t, parse(t, `
actors:
  - name: worker
    host: a
    steps:
      - {op: execute, amount: 1e9}
      - {op: sleep, amount: 2}
`))

	assert.Equal(t, "replay-test", r.RunID())
	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.InDelta(t, 3.0, res.FinalClock, eps)
	assert.Equal(t, 1, res.ActorsCreated)
	assert.Equal(t, 0, res.ActorsFailed)
	assert.Empty(t, res.ActorsAlive)
	assert.Equal(t, 2, res.CompletionTime.Count)
	assert.InDelta(t, 1.0, res.CompletionTime.Min, eps)
	assert.InDelta(t, 3.0, res.CompletionTime.Max, eps)
	require.Len(t, res.Activities, 2)
	assert.Equal(t, "worker", res.Activities[0].Actor)
}

func TestRepeat(t *testing.T) {
	res, _ := runScenario(t, parse(t, `
actors:
  - name: looper
    host: a
    repeat: 3
    steps:
      - {op: execute, amount: 1e9}
`))

	assert.InDelta(t, 3.0, res.FinalClock, eps)
	assert.Equal(t, 3, countRecords(res, "exec", "FINISHED"))
}

func TestDiskAccess(t *testing.T) {
	res, _ := runScenario(t, parse(t, `
actors:
  - name: io
    host: a
    steps:
      - {op: read, disk: hdd, amount: 2e8}
      - {op: write, disk: hdd, amount: 1e8}
`))

	assert.InDelta(t, 2.0, res.FinalClock, eps)
	assert.Equal(t, 2, countRecords(res, "io", "FINISHED"))
}

func TestTimeLimit(t *testing.T) {
	res, r := runScenario(t, parse(t, `
max_date: 4
actors:
  - name: sleeper
    host: a
    steps:
      - {op: sleep, amount: 10}
`))

	assert.Equal(t, models.RunStatusTimeLimit, res.Status)
	assert.InDelta(t, 4.0, res.FinalClock, eps)
	assert.Equal(t, []string{"sleeper"}, res.ActorsAlive)
	assert.Empty(t, r.Engine().Actors(), "remaining actors are killed after the run")
}

func TestHostTurnedOffByStep(t *testing.T) {
	res, r := runScenario(t, parse(t, `
actors:
  - name: victim
    host: b
    steps:
      - {op: execute, amount: 5e9}
  - name: breaker
    host: a
    steps:
      - {op: sleep, amount: 1}
      - {op: turn_off, target: b}
`))

	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.InDelta(t, 1.0, res.FinalClock, eps)
	assert.Equal(t, 1, res.ActorsFailed)
	assert.Equal(t, 1, countRecords(res, "exec", "FAILED"))

	tr := r.Recorder().Snapshot()
	require.Len(t, tr.Resources, 1)
	assert.Equal(t, "b", tr.Resources[0].Resource)
	assert.False(t, tr.Resources[0].On)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	res, _ := runScenario(t, parse(t, `
actors:
  - name: breaker
    host: a
    steps:
      - {op: turn_off, target: wire}
      - {op: sleep, amount: 1.5}
      - {op: turn_on, target: wire}
  - name: sender
    host: a
    steps:
      - {op: send, mailbox: box, amount: 1e6, retries: 3, backoff: constant, retry_delay: 1}
  - name: receiver
    host: b
    steps:
      - {op: recv, mailbox: box, retries: 3, backoff: constant, retry_delay: 1}
`))

	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.Equal(t, 0, res.ActorsFailed)
	assert.InDelta(t, 3.0, res.FinalClock, eps)
	assert.Equal(t, 2, countRecords(res, "comm", "FAILED"))
	assert.Equal(t, 1, countRecords(res, "comm", "FINISHED"))
}

func TestRetriesExhausted(t *testing.T) {
	res, r := runScenario(t, parse(t, `
actors:
  - name: waiter
    host: a
    steps:
      - {op: recv, mailbox: nobody, timeout: 1, retries: 2, backoff: linear, retry_delay: 0.5}
`))

	// timeouts at 1, 2.5 and 4.5 with backoffs of 0.5 and 1 between them
	assert.InDelta(t, 4.5, res.FinalClock, eps)
	assert.Equal(t, 1, res.ActorsFailed)
	tr := r.Recorder().Snapshot()
	require.Len(t, tr.Actors, 1)
	assert.Contains(t, tr.Actors[0].Error, "step 0 (recv)")
	assert.Contains(t, tr.Actors[0].Error, "timeout")
}

func TestMutualWaitDeadlocks(t *testing.T) {
	res, _ := runScenario(t, parse(t, `
actors:
  - name: left
    host: a
    steps:
      - {op: recv, mailbox: from-right}
  - name: right
    host: b
    steps:
      - {op: recv, mailbox: from-left}
`))

	assert.Equal(t, models.RunStatusDeadlocked, res.Status)
	assert.InDelta(t, 0.0, res.FinalClock, eps)
	assert.Equal(t, 2, res.ActorsFailed, "blocked actors are killed")
	assert.Empty(t, res.ActorsAlive)
}

func TestSynchronizationObjects(t *testing.T) {
	res, _ := runScenario(t, parse(t, `
mutexes: [m]
semaphores:
  - {name: slots, capacity: 1}
barriers:
  - {name: gate, count: 2}
actors:
  - name: x
    host: a
    steps:
      - {op: lock, object: m}
      - {op: execute, amount: 1e9}
      - {op: unlock, object: m}
      - {op: barrier, object: gate}
      - {op: acquire, object: slots}
      - {op: sleep, amount: 1}
      - {op: release, object: slots}
  - name: y
    host: b
    steps:
      - {op: lock, object: m}
      - {op: execute, amount: 1e9}
      - {op: unlock, object: m}
      - {op: barrier, object: gate}
      - {op: acquire, object: slots}
      - {op: sleep, amount: 1}
      - {op: release, object: slots}
`))

	// the mutex serializes the executions (0-1, 1-2), the barrier opens at 2
	// and the semaphore serializes the sleeps (2-3, 3-4)
	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.InDelta(t, 4.0, res.FinalClock, eps)
	assert.Equal(t, 0, res.ActorsFailed)
}

func TestActorControlSteps(t *testing.T) {
	res, r := runScenario(t, parse(t, `
actors:
  - name: worker
    host: b
    steps:
      - {op: execute, amount: 2e9}
  - name: idler
    host: b
    steps:
      - {op: sleep, amount: 100}
  - name: controller
    host: a
    steps:
      - {op: sleep, amount: 1}
      - {op: suspend, target: worker}
      - {op: sleep, amount: 2}
      - {op: resume, target: worker}
      - {op: kill, target: idler}
`))

	// the worker shares b with nobody but is paused from 1 to 3
	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.InDelta(t, 4.0, res.FinalClock, eps)
	assert.Equal(t, 1, res.ActorsFailed)

	tr := r.Recorder().Snapshot()
	for _, a := range tr.Actors {
		if a.Name == "idler" {
			assert.True(t, a.Failed)
			assert.InDelta(t, 3.0, a.Ended, eps)
		}
	}
}

func TestMigrateAndSetSpeed(t *testing.T) {
	res, _ := runScenario(t, parse(t, `
actors:
  - name: nomad
    host: a
    steps:
      - {op: set_speed, target: b, amount: 4e9}
      - {op: migrate, target: b}
      - {op: execute, amount: 2e9}
`))

	assert.InDelta(t, 0.5, res.FinalClock, eps)
}

func TestStartAndKillTime(t *testing.T) {
	res, r := runScenario(t, parse(t, `
actors:
  - name: late
    host: a
    start: 2
    kill_time: 5
    steps:
      - {op: sleep, amount: 10}
  - name: ghost
    host: b
    daemon: true
    steps:
      - {op: sleep, amount: 100}
`))

	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.InDelta(t, 5.0, res.FinalClock, eps)
	require.Len(t, res.Activities, 2)

	tr := r.Recorder().Snapshot()
	require.Len(t, tr.Actors, 2)
	assert.InDelta(t, 5.0, tr.Actors[0].Ended, eps)
	assert.True(t, tr.Actors[1].Daemon)
}

func TestLoadScenarioFromFiles(t *testing.T) {
	sc, err := config.LoadScenario("testdata/pingpong.yaml")
	require.NoError(t, err)

	res, tr, err := Run(context.Background(), sc, config.DefaultConfig().Kernel, WithLogger(logger.Discard()))
	require.NoError(t, err)

	// read 0-1, ping 1-2, execute on the faster host 2-3, pong 3-3.5
	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.InDelta(t, 3.5, res.FinalClock, eps)
	assert.Equal(t, 4, res.CompletionTime.Count)
	assert.NotEmpty(t, tr.RunID)
	assert.Len(t, tr.Actors, 2)
}

func TestReproducibleRuns(t *testing.T) {
	body := `
seed: 7
actors:
  - name: breaker
    host: a
    steps:
      - {op: turn_off, target: wire}
      - {op: sleep, amount: 2.5}
      - {op: turn_on, target: wire}
  - name: sender
    host: a
    steps:
      - {op: send, mailbox: box, amount: 1e6, retries: 5, retry_delay: 0.25}
  - name: receiver
    host: b
    steps:
      - {op: recv, mailbox: box, retries: 5, retry_delay: 0.25}
  - name: cruncher
    host: b
    repeat: 2
    steps:
      - {op: execute, amount: 1.5e9}
`
	first, _ := runScenario(t, parse(t, body), WithPolicy(engine.NewRandomPolicy(3)))
	second, _ := runScenario(t, parse(t, body), WithPolicy(engine.NewRandomPolicy(3)))

	assert.Equal(t, first, second)
}

func TestMetricsObserver(t *testing.T) {
	obs := metrics.NewObserver(nil, nil)
	res, _ := runScenario(t, parse(t, `
actors:
  - name: worker
    host: a
    steps:
      - {op: execute, amount: 1e9}
`), WithObserver(obs))

	assert.Equal(t, models.RunStatusCompleted, res.Status)
	durations := obs.Collector().GetTimeSeries(metrics.MetricActivityDuration, metrics.KindLabels("exec", "FINISHED"))
	require.Len(t, durations, 1)
	assert.InDelta(t, 1.0, durations[0].Value, eps)
}

func TestNewRejectsMissingPlatform(t *testing.T) {
	_, err := New(&config.Scenario{}, config.DefaultConfig().Kernel, WithLogger(logger.Discard()))
	assert.Error(t, err)
}
