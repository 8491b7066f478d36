// Package config loads the engine configuration from YAML and the environment.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/Rogers-F/wavequorum/internal/consensus"
	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/logging"
	"github.com/Rogers-F/wavequorum/internal/validate"
	"github.com/Rogers-F/wavequorum/internal/wave"
	"github.com/Rogers-F/wavequorum/internal/worker"
)

const (
	maxConfigFileSize = 1 << 20
	// EnvPrefix marks environment overrides. "__" separates sections:
	// WQ_CONSENSUS__K_THRESHOLD -> consensus.k_threshold.
	EnvPrefix = "WQ_"
)

// ConsensusConfig is the run-wide consensus default plus engine tuning.
type ConsensusConfig struct {
	domain.ConsensusConfig `koanf:",squash"`
	CallsPerSecond         float64 `koanf:"calls_per_second"`
	Normalizer             string  `koanf:"normalizer"`
}

// SchedulerConfig bounds wave dispatch.
type SchedulerConfig struct {
	MaxParallelTasks   int  `koanf:"max_parallel_tasks"`
	MaxConcurrentCalls int  `koanf:"max_concurrent_calls"`
	SquashOnSuccess    bool `koanf:"squash_on_success"`
}

// WorkerConfig selects the provider used for worker calls.
type WorkerConfig struct {
	Provider     string `koanf:"provider"`
	StartRetries int    `koanf:"start_retries"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath      string                         `koanf:"db_path"`
	Workspace   string                         `koanf:"workspace"`
	SnapshotDir string                         `koanf:"snapshot_dir"`
	ListenAddr  string                         `koanf:"listen_addr"`
	Consensus   ConsensusConfig                `koanf:"consensus"`
	Scheduler   SchedulerConfig                `koanf:"scheduler"`
	Validation  validate.Config                `koanf:"validation"`
	Worker      WorkerConfig                   `koanf:"worker"`
	Providers   map[string]worker.ProviderSpec `koanf:"providers"`
	Log         logging.Config                 `koanf:"log"`
}

// Default returns a Config populated with every default.
func Default() Config {
	sched := wave.DefaultConfig()
	return Config{
		ListenAddr: ":9800",
		Consensus:  ConsensusConfig{ConsensusConfig: domain.DefaultConsensusConfig(), Normalizer: "whitespace"},
		Scheduler: SchedulerConfig{
			MaxParallelTasks:   sched.MaxParallelTasks,
			MaxConcurrentCalls: sched.MaxConcurrentCalls,
		},
		Validation: validate.DefaultConfig(),
		Worker:     WorkerConfig{StartRetries: 3},
		Log:        logging.NewDefaultConfig(),
	}
}

// Load reads a YAML config file, applies environment overrides and defaults,
// and validates. An empty path loads defaults and the environment only.
//
// Precedence, highest first: WQ_* environment variables, the file, defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return content, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.Scheduler.MaxParallelTasks == 0 {
		c.Scheduler.MaxParallelTasks = d.Scheduler.MaxParallelTasks
	}
	if c.Scheduler.MaxConcurrentCalls == 0 {
		c.Scheduler.MaxConcurrentCalls = d.Scheduler.MaxConcurrentCalls
	}
	if c.Consensus.PerWorkerTimeout == 0 {
		c.Consensus.PerWorkerTimeout = d.Consensus.PerWorkerTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}

	if c.Workspace != "" {
		if abs, err := filepath.Abs(c.Workspace); err == nil {
			c.Workspace = abs
		}
		parent, base := filepath.Dir(c.Workspace), filepath.Base(c.Workspace)
		if c.SnapshotDir == "" {
			c.SnapshotDir = filepath.Join(parent, "."+base+".snapshots")
		}
		if c.DBPath == "" {
			c.DBPath = filepath.Join(parent, "."+base+".wavequorum.db")
		}
	}
	if c.SnapshotDir != "" {
		if abs, err := filepath.Abs(c.SnapshotDir); err == nil {
			c.SnapshotDir = abs
		}
	}

	for name, p := range c.Providers {
		p.Name = name
		if p.Kind == "" {
			p.Kind = worker.KindCommand
		}
		c.Providers[name] = p
	}
	if c.Worker.Provider == "" && len(c.Providers) == 1 {
		for name := range c.Providers {
			c.Worker.Provider = name
		}
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.Workspace == "" {
		problems = append(problems, "workspace is required")
	}
	if c.Workspace != "" && c.SnapshotDir != "" && within(c.Workspace, c.SnapshotDir) {
		problems = append(problems, "snapshot_dir must not be inside workspace")
	}
	if err := c.Consensus.ConsensusConfig.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Consensus.CallsPerSecond < 0 {
		problems = append(problems, "consensus.calls_per_second must not be negative")
	}
	if _, err := consensus.NormalizerByName(c.Consensus.Normalizer); err != nil {
		problems = append(problems, "consensus."+err.Error())
	}
	if c.Scheduler.MaxParallelTasks < 1 {
		problems = append(problems, "scheduler.max_parallel_tasks must be >= 1")
	}
	if c.Scheduler.MaxConcurrentCalls < 1 {
		problems = append(problems, "scheduler.max_concurrent_calls must be >= 1")
	}
	if c.Worker.StartRetries < 0 {
		problems = append(problems, "worker.start_retries must not be negative")
	}
	if len(c.Providers) == 0 {
		problems = append(problems, "at least one provider is required")
	} else if _, ok := c.Providers[c.Worker.Provider]; !ok {
		problems = append(problems, fmt.Sprintf("worker.provider %q is not configured (have %s)",
			c.Worker.Provider, strings.Join(c.providerNames(), ", ")))
	}
	for _, name := range c.providerNames() {
		p := c.Providers[name]
		switch p.Kind {
		case worker.KindCommand:
			if p.Command == "" {
				problems = append(problems, fmt.Sprintf("providers.%s.command is required", name))
			}
		case worker.KindAnthropic:
			if p.Model == "" {
				problems = append(problems, fmt.Sprintf("providers.%s.model is required", name))
			}
		default:
			problems = append(problems, fmt.Sprintf("providers.%s.kind %q is unknown", name, p.Kind))
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

// SchedulerConfig converts the loaded settings into scheduler limits.
func (c *Config) SchedulerConfig() wave.Config {
	return wave.Config{
		MaxParallelTasks:   c.Scheduler.MaxParallelTasks,
		MaxConcurrentCalls: c.Scheduler.MaxConcurrentCalls,
		CallsPerSecond:     c.Consensus.CallsPerSecond,
		Consensus:          c.Consensus.ConsensusConfig,
		SquashOnSuccess:    c.Scheduler.SquashOnSuccess,
	}
}

// Registry builds the provider registry from the providers section.
func (c *Config) Registry() *worker.Registry {
	reg := worker.NewRegistry()
	for _, name := range c.providerNames() {
		_ = reg.Register(c.Providers[name])
	}
	return reg
}

func (c *Config) providerNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
