package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/simkernel/internal/trace"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

const pingScenario = `
name: ping
platform:
  hosts:
    - {name: a, speed: 1e9}
    - {name: b, speed: 1e9}
  links:
    - {name: wire, bandwidth: 1e6, latency: 0}
  routes:
    - {src: a, dst: b, links: [wire]}
actors:
  - name: sender
    host: a
    steps:
      - {op: send, mailbox: box, amount: 1e6}
  - name: receiver
    host: b
    steps:
      - {op: recv, mailbox: box}
      - {op: execute, amount: 1e9}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append(args, "--env-file", "", "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	scenario := writeFile(t, dir, "ping.yaml", pingScenario)
	tracePath := filepath.Join(dir, "trace.json")

	out, err := execute(t, "run", "--scenario", scenario, "--trace", tracePath)
	require.NoError(t, err)

	var res models.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, models.RunStatusCompleted, res.Status)
	assert.InDelta(t, 2.0, res.FinalClock, 1e-9)
	assert.Equal(t, 2, res.ActorsCreated)
	assert.Zero(t, res.ActorsFailed)

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	tr, err := trace.Read(data)
	require.NoError(t, err)
	assert.Len(t, tr.Actors, 2)
	assert.Len(t, tr.Activities, 2)
}

func TestRunCommandMaxDate(t *testing.T) {
	scenario := writeFile(t, t.TempDir(), "ping.yaml", pingScenario)

	out, err := execute(t, "run", "--scenario", scenario, "--max-date", "1.5")
	require.NoError(t, err)

	var res models.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, models.RunStatusTimeLimit, res.Status)
	assert.InDelta(t, 1.5, res.FinalClock, 1e-9)
	assert.Equal(t, []string{"receiver"}, res.ActorsAlive)
}

func TestRunCommandRequiresScenario(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	scenario := writeFile(t, dir, "ping.yaml", pingScenario)

	out, err := execute(t, "validate", "--scenario", scenario)
	require.NoError(t, err)
	assert.Contains(t, out, `scenario "ping" is valid: 2 hosts, 1 links, 2 actors`)

	broken := writeFile(t, dir, "broken.yaml", "actors:\n  - {name: x, host: nowhere, steps: [{op: fly}]}\n")
	_, err = execute(t, "validate", "--scenario", broken)
	require.Error(t, err)
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeFile(t, dir, "simd.yaml", "log_level: warn\ndaemon:\n  http_addr: \":7000\"\n  grpc_addr: \":7001\"\n")
	envPath := writeFile(t, dir, "test.env", envGRPCAddr+"=:9001\n")
	t.Cleanup(func() { os.Unsetenv(envGRPCAddr) })
	t.Setenv(envHTTPAddr, ":9000")

	root := newRootCmd()
	require.NoError(t, root.ParseFlags([]string{"--config", cfgFile, "--env-file", envPath, "--log-level", "debug"}))

	cfg, log, err := loadConfig(root)
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, ":9000", cfg.Daemon.HTTPAddr)
	assert.Equal(t, ":9001", cfg.Daemon.GRPCAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 64, cfg.Daemon.MaxRuns)
}
