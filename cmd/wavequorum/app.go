package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/Rogers-F/wavequorum/internal/config"
	"github.com/Rogers-F/wavequorum/internal/consensus"
	"github.com/Rogers-F/wavequorum/internal/logging"
	"github.com/Rogers-F/wavequorum/internal/snapshot"
	"github.com/Rogers-F/wavequorum/internal/store"
	"github.com/Rogers-F/wavequorum/internal/validate"
	"github.com/Rogers-F/wavequorum/internal/wave"
	"github.com/Rogers-F/wavequorum/internal/worker"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	db        *sql.DB
	journal   *store.Journal
	snapshots *snapshot.GitStore
}

func loadApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	snaps, err := snapshot.Open(cfg.Workspace, cfg.SnapshotDir)
	if err != nil {
		return nil, fmt.Errorf("open snapshots: %w", err)
	}
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		journal:   store.NewJournal(db),
		snapshots: snaps,
	}, nil
}

// scheduler wires the configured worker provider, validation rules and
// normalizer into a wave scheduler that journals to the database.
func (a *app) scheduler() (*wave.Scheduler, error) {
	w, err := a.cfg.Registry().Worker(a.cfg.Worker.Provider, worker.BuildOptions{
		Dir:          a.cfg.Workspace,
		StartRetries: uint64(a.cfg.Worker.StartRetries),
		Logger:       a.logger.Named("worker"),
	})
	if err != nil {
		return nil, err
	}
	rules, err := validate.FromConfig(a.cfg.Validation)
	if err != nil {
		return nil, fmt.Errorf("build validation rules: %w", err)
	}
	norm, err := consensus.NormalizerByName(a.cfg.Consensus.Normalizer)
	if err != nil {
		return nil, err
	}

	return wave.New(w, a.snapshots, a.cfg.SchedulerConfig(),
		wave.WithValidator(rules),
		wave.WithJournal(a.journal),
		wave.WithLogger(a.logger.Named("scheduler")),
		wave.WithNormalizer(norm),
	), nil
}

func (a *app) Close() error {
	// Sync on a terminal stderr reports EINVAL on some platforms.
	_ = a.logger.Sync()
	return a.db.Close()
}
