package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// setupCLI writes a config whose single provider runs script under sh.
func setupCLI(t *testing.T, script string) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	cfgPath = writeFile(t, filepath.Join(dir, "config.yaml"), `
workspace: `+filepath.Join(dir, "ws")+`
log:
  level: error
consensus:
  k_threshold: 1
  max_workers: 1
  batch_size: 1
  per_worker_timeout: 10s
providers:
  sh:
    command: sh
    args: ["-c", `+quote(script)+`]
`)
	configPath = ""
	t.Cleanup(func() { configPath = "" })
	return cfgPath, dir
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const diamondTasks = `
tasks:
  - id: a
    description: write the root
  - id: b
    description: left
    depends_on: [a]
  - id: c
    description: right
    depends_on: [a]
    consensus:
      k_threshold: 1
      max_workers: 1
`

func TestLoadTasks_LayersPartialConsensus(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "tasks.yaml"), `
tasks:
  - id: a
    description: root
  - id: b
    description: child
    depends_on: [a]
    consensus:
      k_threshold: 3
      per_worker_timeout: 45s
`)
	defaults := domain.DefaultConsensusConfig()

	tasks, err := loadTasks(path, defaults)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "a", tasks[0].ID)
	assert.Nil(t, tasks[0].Consensus)
	assert.Equal(t, []string{"a"}, tasks[1].DependsOn)
	require.NotNil(t, tasks[1].Consensus)
	assert.Equal(t, 3, tasks[1].Consensus.KThreshold)
	assert.Equal(t, defaults.MaxWorkers, tasks[1].Consensus.MaxWorkers)
	assert.Equal(t, 45*time.Second, tasks[1].Consensus.PerWorkerTimeout)
	assert.True(t, tasks[1].Consensus.DiscardInvalid)
}

func TestLoadTasks_AcceptsJSON(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "tasks.json"),
		`{"tasks":[{"id":"a","description":"x"},{"id":"b","depends_on":["a"]}]}`)

	tasks, err := loadTasks(path, domain.DefaultConsensusConfig())
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestLoadTasks_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadTasks(filepath.Join(dir, "missing.yaml"), domain.DefaultConsensusConfig())
	assert.Error(t, err)

	empty := writeFile(t, filepath.Join(dir, "empty.yaml"), "other: 1\n")
	_, err = loadTasks(empty, domain.DefaultConsensusConfig())
	assert.ErrorContains(t, err, "no tasks")

	bad := writeFile(t, filepath.Join(dir, "bad.yaml"), "tasks: [unterminated")
	_, err = loadTasks(bad, domain.DefaultConsensusConfig())
	assert.Error(t, err)
}

func TestResolveConfigPath_Precedence(t *testing.T) {
	t.Cleanup(func() { configPath = "" })

	t.Setenv("WQ_CONFIG", "/from/env.yaml")
	configPath = "/from/flag.yaml"
	assert.Equal(t, "/from/flag.yaml", resolveConfigPath())

	configPath = ""
	assert.Equal(t, "/from/env.yaml", resolveConfigPath())
}

func TestPrintReport(t *testing.T) {
	report := &domain.RunReport{
		RunID: "r1",
		PerTask: map[string]domain.TaskOutcome{
			"b": {TaskID: "b", State: domain.TaskFailed, Reason: domain.ReasonConsensusExhausted, Wave: 1,
				Consensus: &domain.ConsensusResult{Votes: map[string]int{"x": 1, "y": 2}, ConsideredCount: 3}},
			"a": {TaskID: "a", State: domain.TaskSucceeded},
		},
		WavesCompleted: 1,
		StoppedEarly:   true,
		StopReason:     "wave 1 failed: b=ConsensusExhausted",
	}
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, report))

	out := buf.String()
	assert.Contains(t, out, "run r1: failed (1 waves committed)")
	assert.Contains(t, out, "stopped: wave 1 failed")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[3], "a "), lines[3])
	assert.Contains(t, lines[4], "ConsensusExhausted")
	assert.Contains(t, lines[4], "2/3")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "wavequorum dev")
}

func TestRunCommand_Succeeds(t *testing.T) {
	cfg, dir := setupCLI(t, `cat >/dev/null; echo ok`)
	tasks := writeFile(t, filepath.Join(dir, "tasks.yaml"), diamondTasks)

	out, err := execute(t, "run", "--config", cfg, "--tasks", tasks, "--run-id", "cli-run", "--json")
	require.NoError(t, err, out)

	var report domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "cli-run", report.RunID)
	assert.Equal(t, 2, report.WavesCompleted)
	assert.Empty(t, report.Failed())
	require.NotNil(t, report.PerTask["a"].Output)
	assert.Equal(t, "ok\n", report.PerTask["a"].Output.Raw)

	out, err = execute(t, "snapshots", "list", "--config", cfg, "--json")
	require.NoError(t, err, out)
	var snaps []domain.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	assert.NotEmpty(t, snaps)
}

func TestRunCommand_FailedTasksExitNonZero(t *testing.T) {
	cfg, dir := setupCLI(t, `cat >/dev/null; exit 3`)
	tasks := writeFile(t, filepath.Join(dir, "tasks.yaml"), diamondTasks)

	out, err := execute(t, "run", "--config", cfg, "--tasks", tasks)
	require.ErrorIs(t, err, errTasksFailed)
	assert.Contains(t, out, "ConsensusExhausted")
	assert.Contains(t, out, "BlockedByDependencyFailure")
}

func TestRunCommand_RequiresTasksFlag(t *testing.T) {
	_, err := execute(t, "run")
	assert.ErrorContains(t, err, "tasks")
}

func TestSnapshotsCreateAndRevert(t *testing.T) {
	cfg, dir := setupCLI(t, `echo ok`)
	ws := filepath.Join(dir, "ws")
	require.NoError(t, os.MkdirAll(ws, 0o755))
	writeFile(t, filepath.Join(ws, "file.txt"), "v1")

	out, err := execute(t, "snapshots", "create", "--config", cfg, "-m", "v1")
	require.NoError(t, err, out)
	id := strings.TrimSpace(out)
	assert.Len(t, id, 40)

	writeFile(t, filepath.Join(ws, "file.txt"), "v2")
	writeFile(t, filepath.Join(ws, "stray.txt"), "x")

	out, err = execute(t, "snapshots", "revert", "--config", cfg)
	require.NoError(t, err, out)

	got, err := os.ReadFile(filepath.Join(ws, "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
	assert.NoFileExists(t, filepath.Join(ws, "stray.txt"))

	_, err = execute(t, "snapshots", "revert", "--config", cfg, "0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, domain.ErrUnknownSnapshot)
}
