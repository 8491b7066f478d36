package wave

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Rogers-F/wavequorum/internal/consensus"
	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/logging"
	"github.com/Rogers-F/wavequorum/internal/metrics"
)

// Journal receives run progress. Journal errors are logged and never change
// task outcomes.
type Journal interface {
	RunStarted(ctx context.Context, runID string, tasks []domain.Task) error
	WaveStarted(ctx context.Context, runID string, wave int, snapshotID string, taskIDs []string) error
	WaveFinished(ctx context.Context, runID string, wave int, committed bool) error
	TaskFinished(ctx context.Context, runID string, outcome domain.TaskOutcome) error
	RunFinished(ctx context.Context, report *domain.RunReport) error
}

// Config holds scheduler limits and the default consensus parameters.
type Config struct {
	MaxParallelTasks   int
	MaxConcurrentCalls int
	// CallsPerSecond paces worker calls within one run; 0 disables pacing.
	CallsPerSecond  float64
	Consensus       domain.ConsensusConfig
	SquashOnSuccess bool
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelTasks:   4,
		MaxConcurrentCalls: 8,
		Consensus:          domain.DefaultConsensusConfig(),
	}
}

// Scheduler executes task DAGs wave by wave. Each wave is bracketed by a
// snapshot and is committed or rolled back as a whole. Waves never overlap.
type Scheduler struct {
	worker     domain.WorkerPort
	snapshots  domain.SnapshotStore
	validator  domain.ValidationPort
	journal    Journal
	logger     *logging.Logger
	normalizer consensus.Normalizer
	cfg        Config
	calls      *semaphore.Weighted
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithValidator sets the ValidationPort used on candidates and winners.
func WithValidator(v domain.ValidationPort) Option {
	return func(s *Scheduler) { s.validator = v }
}

// WithJournal records run progress.
func WithJournal(j Journal) Option {
	return func(s *Scheduler) { s.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithNormalizer sets the consensus key normalizer.
func WithNormalizer(n consensus.Normalizer) Option {
	return func(s *Scheduler) { s.normalizer = n }
}

// New creates a Scheduler. Non-positive limits fall back to DefaultConfig.
func New(worker domain.WorkerPort, snapshots domain.SnapshotStore, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = def.MaxParallelTasks
	}
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = def.MaxConcurrentCalls
	}
	s := &Scheduler{
		worker:     worker,
		snapshots:  snapshots,
		logger:     logging.NewNop(),
		normalizer: consensus.WhitespaceNormalizer{},
		cfg:        cfg,
		calls:      semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOption configures one Execute call.
type RunOption func(*runOptions)

type runOptions struct {
	runID string
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// Execute runs tasks to completion and returns every task's terminal outcome.
//
// Input errors (empty, duplicate or unknown IDs, invalid consensus parameters)
// return a nil report and touch nothing. A cycle returns both the error and a
// report with every task Failed:CyclicDependency. Per-task failures and
// cancellation are reported in the RunReport, not as errors; a non-nil error
// alongside a report means the snapshot store failed.
func (s *Scheduler) Execute(ctx context.Context, tasks []domain.Task, opts ...RunOption) (*domain.RunReport, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = uuid.NewString()
	}
	runID := ro.runID
	ctx = logging.WithRunID(ctx, runID)
	report := &domain.RunReport{RunID: runID, StartedAt: time.Now()}

	g, err := BuildGraph(tasks)
	if err != nil {
		var cerr *CycleError
		if !errors.As(err, &cerr) {
			return nil, err
		}
		rs := newRunState(tasks)
		for _, t := range tasks {
			if err := rs.fail(t.ID, 0, domain.ReasonCyclicDependency, cerr.Error(), nil); err != nil {
				return nil, err
			}
		}
		report.StoppedEarly = true
		report.StopReason = cerr.Error()
		s.logger.Error(ctx, "task graph rejected", zap.Strings("unordered", cerr.Unordered), zap.Strings("witness", cerr.Witness))
		s.finish(ctx, report, rs)
		return report, err
	}
	for _, t := range g.Tasks() {
		if err := s.consensusFor(t).Validate(); err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
	}

	eng := s.newEngine()
	rs := newRunState(g.Tasks())
	s.journalDo(ctx, "run_started", func(jctx context.Context) error {
		return s.journal.RunStarted(jctx, runID, g.Tasks())
	})
	s.logger.Info(ctx, "run started", zap.Int("tasks", g.Len()))

	var (
		snaps  []string
		runErr error
	)
	for wave := 0; ; wave++ {
		ready := g.Ready(rs.statesCopy())
		if len(ready) == 0 {
			break
		}
		if ctx.Err() != nil {
			if err := s.failRemaining(rs, wave, domain.ReasonCancelled, "run cancelled"); err != nil {
				return nil, err
			}
			report.StoppedEarly = true
			report.StopReason = "run cancelled"
			break
		}

		wctx := logging.WithWave(ctx, wave)
		for _, id := range ready {
			if err := rs.transition(id, domain.TaskReady); err != nil {
				return nil, err
			}
		}

		snapID, err := s.snapshots.Create(wctx, fmt.Sprintf("wave %d", wave))
		if err != nil {
			s.logger.Error(wctx, "pre-wave snapshot failed", zap.Error(err))
			detail := "snapshot failed: " + err.Error()
			for _, id := range ready {
				if err := rs.fail(id, wave, domain.ReasonSnapshotFailed, detail, nil); err != nil {
					return nil, err
				}
			}
			if err := s.failRemaining(rs, wave, domain.ReasonBlocked, fmt.Sprintf("wave %d could not be checkpointed", wave)); err != nil {
				return nil, err
			}
			report.StoppedEarly = true
			report.StopReason = fmt.Sprintf("wave %d: %s", wave, detail)
			runErr = fmt.Errorf("wave %d: %w", wave, err)
			break
		}
		snaps = append(snaps, snapID)

		s.journalDo(wctx, "wave_started", func(jctx context.Context) error {
			return s.journal.WaveStarted(jctx, runID, wave, snapID, ready)
		})
		s.logger.Info(wctx, "wave started", zap.Strings("tasks", ready), zap.String("snapshot", snapID))

		if err := s.runWave(wctx, eng, g, rs, wave, ready); err != nil {
			return nil, err
		}

		var failed []string
		for _, id := range ready {
			if rs.state(id) == domain.TaskFailed {
				failed = append(failed, id)
			}
		}
		if len(failed) == 0 {
			report.WavesCompleted++
			metrics.Waves.WithLabelValues(metrics.WaveCommitted).Inc()
			s.journalDo(wctx, "wave_finished", func(jctx context.Context) error {
				return s.journal.WaveFinished(jctx, runID, wave, true)
			})
			s.logger.Info(wctx, "wave committed")
			continue
		}

		// Every task in the wave is terminal here, so no worker is still writing.
		rbErr := s.snapshots.RevertTo(context.WithoutCancel(wctx), snapID)
		for _, id := range ready {
			if rs.state(id) != domain.TaskSucceeded {
				continue
			}
			if err := rs.fail(id, wave, domain.ReasonRolledBackWithWave, fmt.Sprintf("wave %d rolled back", wave), nil); err != nil {
				return nil, err
			}
		}
		metrics.Waves.WithLabelValues(metrics.WaveRolledBack).Inc()
		s.journalDo(wctx, "wave_finished", func(jctx context.Context) error {
			return s.journal.WaveFinished(jctx, runID, wave, false)
		})
		s.logger.Warn(wctx, "wave rolled back", zap.Strings("failed", failed), zap.Error(rbErr))

		if ctx.Err() != nil {
			err = s.failRemaining(rs, wave, domain.ReasonCancelled, "run cancelled")
		} else {
			err = s.failBlocked(g, rs, wave, failed)
		}
		if err != nil {
			return nil, err
		}
		report.StoppedEarly = true
		report.StopReason = describeFailures(wave, failed, rs.outcomesCopy())
		if rbErr != nil {
			report.StopReason += "; rollback failed: " + rbErr.Error()
			runErr = fmt.Errorf("roll back wave %d: %w", wave, rbErr)
		}
		break
	}

	if s.cfg.SquashOnSuccess && !report.StoppedEarly && len(snaps) > 0 {
		s.squashRun(ctx, runID, snaps)
	}
	s.finish(ctx, report, rs)
	return report, runErr
}

func (s *Scheduler) runWave(ctx context.Context, eng *consensus.Engine, g *Graph, rs *runState, wave int, ready []string) error {
	var eg errgroup.Group
	eg.SetLimit(s.cfg.MaxParallelTasks)
	for _, id := range ready {
		task, _ := g.Task(id)
		eg.Go(func() error {
			return s.runTask(ctx, eng, rs, wave, task)
		})
	}
	return eg.Wait()
}

// runTask drives one task through consensus and validation. The returned
// error is reserved for state-table violations.
func (s *Scheduler) runTask(ctx context.Context, eng *consensus.Engine, rs *runState, wave int, task domain.Task) error {
	ctx = logging.WithTaskID(ctx, task.ID)
	if err := rs.transition(task.ID, domain.TaskRunning); err != nil {
		return err
	}

	cfg := s.consensusFor(task)
	res, err := eng.RunConsensus(ctx, task, cfg)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case domain.OutcomeWon:
		if s.validator != nil {
			violations, err := s.validateWinner(ctx, *res.Winner, cfg.PerWorkerTimeout)
			switch {
			case ctx.Err() != nil:
				return rs.fail(task.ID, wave, domain.ReasonCancelled, "run cancelled", res)
			case errors.Is(err, context.DeadlineExceeded):
				s.logger.Warn(ctx, "winner validation timed out", zap.Duration("timeout", cfg.PerWorkerTimeout))
				return rs.fail(task.ID, wave, domain.ReasonValidationRejected,
					fmt.Sprintf("validation timed out after %s", cfg.PerWorkerTimeout), res)
			case err != nil:
				return rs.fail(task.ID, wave, domain.ReasonValidationRejected, "validator error: "+err.Error(), res)
			}
			if len(violations) > 0 {
				s.logger.Info(ctx, "winner rejected", zap.Strings("violations", violations))
				return rs.fail(task.ID, wave, domain.ReasonValidationRejected, strings.Join(violations, "; "), res)
			}
		}
		return rs.succeed(task.ID, wave, res.Winner, res)
	case domain.OutcomeAllDiscarded:
		return rs.fail(task.ID, wave, domain.ReasonValidationRejected,
			fmt.Sprintf("all %d candidates failed validation", res.DiscardedCount), res)
	case domain.OutcomeCancelled:
		return rs.fail(task.ID, wave, domain.ReasonCancelled, "run cancelled", res)
	default:
		return rs.fail(task.ID, wave, domain.ReasonConsensusExhausted,
			fmt.Sprintf("no candidate led by %d after %d calls", cfg.KThreshold, res.ConsideredCount), res)
	}
}

// validateWinner bounds the validator by timeout. A validator that ignores
// its context is abandoned at the deadline.
func (s *Scheduler) validateWinner(ctx context.Context, out domain.CandidateOutput, timeout time.Duration) ([]string, error) {
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		violations []string
		err        error
	}
	done := make(chan reply, 1)
	go func() {
		v, err := s.validator.Validate(vctx, out)
		done <- reply{v, err}
	}()
	select {
	case r := <-done:
		return r.violations, r.err
	case <-vctx.Done():
		return nil, vctx.Err()
	}
}

// failRemaining fails every non-terminal task.
func (s *Scheduler) failRemaining(rs *runState, wave int, reason domain.FailureReason, detail string) error {
	for _, id := range rs.nonTerminal() {
		if err := rs.fail(id, wave, reason, detail, nil); err != nil {
			return err
		}
	}
	return nil
}

// failBlocked fails every non-terminal task after wave failed. Dependents
// of a failed task name the failed tasks they descend from; the rest were
// only stopped by the wave.
func (s *Scheduler) failBlocked(g *Graph, rs *runState, wave int, failed []string) error {
	causes := map[string][]string{}
	for _, id := range failed {
		for _, d := range g.Descendants(id) {
			causes[d] = append(causes[d], id)
		}
	}
	for _, id := range rs.nonTerminal() {
		detail := fmt.Sprintf("run stopped after wave %d failed", wave)
		if c := causes[id]; len(c) > 0 {
			detail = "blocked by failed dependency " + strings.Join(c, ", ")
		}
		if err := rs.fail(id, wave, domain.ReasonBlocked, detail, nil); err != nil {
			return err
		}
	}
	return nil
}

// squashRun collapses the checkpoints this run created after its first wave
// into one entry, keeping the pre-run checkpoint as the rollback point.
func (s *Scheduler) squashRun(ctx context.Context, runID string, snaps []string) {
	final, err := s.snapshots.Create(ctx, fmt.Sprintf("run %s complete", runID))
	if err != nil {
		s.logger.Warn(ctx, "final snapshot failed", zap.Error(err))
		return
	}
	base := snaps[0]
	if final == base {
		return
	}
	from := final
	for _, id := range snaps[1:] {
		if id != base {
			from = id
			break
		}
	}
	id, err := s.snapshots.Squash(ctx, from, final, "run "+runID)
	if err != nil {
		s.logger.Warn(ctx, "squash run snapshots failed", zap.Error(err))
		return
	}
	s.logger.Info(ctx, "run snapshots squashed", zap.String("snapshot", id))
}

func (s *Scheduler) finish(ctx context.Context, report *domain.RunReport, rs *runState) {
	report.PerTask = rs.outcomesCopy()
	report.FinishedAt = time.Now()

	ids := make([]string, 0, len(report.PerTask))
	for id := range report.PerTask {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		o := report.PerTask[id]
		metrics.TaskOutcomes.WithLabelValues(string(o.State), string(o.Reason)).Inc()
		s.journalDo(ctx, "task_finished", func(jctx context.Context) error {
			return s.journal.TaskFinished(jctx, report.RunID, o)
		})
	}
	s.journalDo(ctx, "run_finished", func(jctx context.Context) error {
		return s.journal.RunFinished(jctx, report)
	})
	s.logger.Info(ctx, "run finished",
		zap.Int("waves_completed", report.WavesCompleted),
		zap.Int("failed", len(report.Failed())),
		zap.Bool("stopped_early", report.StoppedEarly),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
}

func (s *Scheduler) journalDo(ctx context.Context, event string, fn func(context.Context) error) {
	if s.journal == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn(ctx, "journal write failed", zap.String("event", event), zap.Error(err))
	}
}

func (s *Scheduler) newEngine() *consensus.Engine {
	opts := []consensus.Option{
		consensus.WithLogger(s.logger.Named("consensus")),
		consensus.WithNormalizer(s.normalizer),
		consensus.WithCallLimiter(s.calls),
	}
	if s.validator != nil {
		opts = append(opts, consensus.WithValidator(s.validator))
	}
	if cps := s.cfg.CallsPerSecond; cps > 0 {
		opts = append(opts, consensus.WithRateLimiter(rate.NewLimiter(rate.Limit(cps), max(1, int(math.Ceil(cps))))))
	}
	return consensus.NewEngine(s.worker, opts...)
}

func (s *Scheduler) consensusFor(t domain.Task) domain.ConsensusConfig {
	if t.Consensus != nil {
		return *t.Consensus
	}
	return s.cfg.Consensus
}

func describeFailures(wave int, failed []string, outcomes map[string]domain.TaskOutcome) string {
	parts := make([]string, 0, len(failed))
	for _, id := range failed {
		parts = append(parts, fmt.Sprintf("%s=%s", id, outcomes[id].Reason))
	}
	return fmt.Sprintf("wave %d failed: %s", wave, strings.Join(parts, ", "))
}
