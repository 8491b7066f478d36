package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/worker"
)

// validYAML returns a minimal valid configuration rooted at dir.
func validYAML(dir string) string {
	return `
workspace: ` + filepath.Join(dir, "ws") + `
providers:
  echo:
    command: echo
    args: ["hello"]
`
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func requireConfigInvalid(t *testing.T, err error, fragment string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var engineErr *domain.EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected EngineError, got %T", err)
	}
	if engineErr.Code != domain.ErrConfigInvalid.Code {
		t.Errorf("Code = %d, want %d", engineErr.Code, domain.ErrConfigInvalid.Code)
	}
	if fragment != "" && !strings.Contains(engineErr.Message, fragment) {
		t.Errorf("message %q does not mention %q", engineErr.Message, fragment)
	}
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML(dir))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != filepath.Join(dir, "ws") {
		t.Errorf("Workspace = %q", cfg.Workspace)
	}
	if cfg.Worker.Provider != "echo" {
		t.Errorf("Worker.Provider = %q, want echo (sole provider)", cfg.Worker.Provider)
	}
	p := cfg.Providers["echo"]
	if p.Name != "echo" || p.Kind != worker.KindCommand || len(p.Args) != 1 {
		t.Errorf("unexpected provider: %+v", p)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "workspace: [unterminated")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "# "+strings.Repeat("x", maxConfigFileSize))

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestLoad_MissingWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
providers:
  p:
    command: echo
`)
	_, err := Load(path)
	requireConfigInvalid(t, err, "workspace is required")
}

func TestLoad_NoProviders(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "workspace: "+dir)

	_, err := Load(path)
	requireConfigInvalid(t, err, "at least one provider")
}

func TestLoad_SnapshotDirInsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML(dir)+"snapshot_dir: "+filepath.Join(dir, "ws", ".snap")+"\n")

	_, err := Load(path)
	requireConfigInvalid(t, err, "snapshot_dir")
}

func TestLoad_InvalidConsensusCollectsProblems(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML(dir)+`
consensus:
  k_threshold: 5
  max_workers: 3
  normalizer: fuzzy
`)
	_, err := Load(path)
	requireConfigInvalid(t, err, "max_workers")
	requireConfigInvalid(t, err, "normalizer")
}

func TestLoad_UnknownProviderSelected(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML(dir)+`
worker:
  provider: missing
`)
	_, err := Load(path)
	requireConfigInvalid(t, err, `"missing"`)
}

func TestLoad_AnthropicProviderNeedsModel(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
workspace: `+dir+`
providers:
  claude:
    kind: anthropic
`)
	_, err := Load(path)
	requireConfigInvalid(t, err, "providers.claude.model")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML(dir))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9800" {
		t.Errorf("ListenAddr = %q, want :9800", cfg.ListenAddr)
	}
	if cfg.Consensus.KThreshold != 2 || cfg.Consensus.MaxWorkers != 7 || cfg.Consensus.BatchSize != 3 {
		t.Errorf("unexpected consensus defaults: %+v", cfg.Consensus)
	}
	if cfg.Consensus.PerWorkerTimeout != 2*time.Minute {
		t.Errorf("PerWorkerTimeout = %v, want 2m", cfg.Consensus.PerWorkerTimeout)
	}
	if !cfg.Consensus.DiscardInvalid {
		t.Error("DiscardInvalid should default to true")
	}
	if cfg.Scheduler.MaxParallelTasks != 4 || cfg.Scheduler.MaxConcurrentCalls != 8 {
		t.Errorf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if !cfg.Validation.DetectSecrets || cfg.Validation.MaxOutputBytes != 1<<20 {
		t.Errorf("unexpected validation defaults: %+v", cfg.Validation)
	}
	if cfg.Worker.StartRetries != 3 {
		t.Errorf("StartRetries = %d, want 3", cfg.Worker.StartRetries)
	}
	if cfg.SnapshotDir != filepath.Join(dir, ".ws.snapshots") {
		t.Errorf("SnapshotDir = %q", cfg.SnapshotDir)
	}
	if cfg.DBPath != filepath.Join(dir, ".ws.wavequorum.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML(dir)+`
consensus:
  k_threshold: 3
  per_worker_timeout: 30s
  discard_invalid: false
validation:
  detect_secrets: false
  forbidden_references: ["internal/legacy"]
scheduler:
  squash_on_success: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Consensus.KThreshold != 3 || cfg.Consensus.MaxWorkers != 7 {
		t.Errorf("unexpected consensus: %+v", cfg.Consensus)
	}
	if cfg.Consensus.PerWorkerTimeout != 30*time.Second {
		t.Errorf("PerWorkerTimeout = %v, want 30s", cfg.Consensus.PerWorkerTimeout)
	}
	if cfg.Consensus.DiscardInvalid || cfg.Validation.DetectSecrets {
		t.Error("explicit false values should survive defaults")
	}
	if len(cfg.Validation.ForbiddenReferences) != 1 {
		t.Errorf("ForbiddenReferences = %v", cfg.Validation.ForbiddenReferences)
	}

	sc := cfg.SchedulerConfig()
	if !sc.SquashOnSuccess || sc.Consensus.KThreshold != 3 {
		t.Errorf("unexpected scheduler config: %+v", sc)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML(dir)+`
consensus:
  k_threshold: 3
`)
	t.Setenv("WQ_CONSENSUS__K_THRESHOLD", "4")
	t.Setenv("WQ_LISTEN_ADDR", "127.0.0.1:9900")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Consensus.KThreshold != 4 {
		t.Errorf("KThreshold = %d, want 4 from env", cfg.Consensus.KThreshold)
	}
	if cfg.ListenAddr != "127.0.0.1:9900" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WQ_WORKSPACE", dir)
	t.Setenv("WQ_PROVIDERS__ECHO__COMMAND", "echo")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != dir || cfg.Worker.Provider != "echo" {
		t.Errorf("unexpected env-only config: workspace=%q provider=%q", cfg.Workspace, cfg.Worker.Provider)
	}
	if names := cfg.Registry().List(); len(names) != 1 || names[0] != "echo" {
		t.Errorf("Registry().List() = %v", names)
	}
}
