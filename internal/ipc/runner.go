package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/logging"
	"github.com/Rogers-F/wavequorum/internal/wave"
)

// Executor runs a task set to completion.
type Executor interface {
	Execute(ctx context.Context, tasks []domain.Task, opts ...wave.RunOption) (*domain.RunReport, error)
}

// Runner executes submitted runs in the background. A run owns the
// workspace, so at most one run is active at a time.
type Runner struct {
	exec   Executor
	logger *logging.Logger

	mu     sync.Mutex
	active string
	cancel context.CancelFunc
	last   *domain.RunReport
	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner around exec.
func NewRunner(exec Executor, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{exec: exec, logger: logger, base: base, stop: stop}
}

// Submit validates tasks and starts a run. It returns the run ID, or
// ErrRunInProgress when another run is active.
func (r *Runner) Submit(runID string, tasks []domain.Task) (string, error) {
	if _, err := wave.BuildGraph(tasks); err != nil {
		return "", err
	}
	for _, t := range tasks {
		if t.Consensus == nil {
			continue
		}
		if err := t.Consensus.Validate(); err != nil {
			return "", fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" {
		return "", domain.NewEngineError(domain.ErrRunInProgress.Code,
			domain.ErrRunInProgress.Message+": "+r.active)
	}
	if err := r.base.Err(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(r.base)
	r.active, r.cancel = runID, cancel
	r.wg.Add(1)
	go r.run(ctx, runID, tasks)
	return runID, nil
}

func (r *Runner) run(ctx context.Context, runID string, tasks []domain.Task) {
	defer r.wg.Done()
	ctx = logging.WithRunID(ctx, runID)

	report, err := r.exec.Execute(ctx, tasks, wave.WithRunID(runID))
	if err != nil {
		r.logger.Error(ctx, "run ended with error", zap.Error(err))
	} else {
		r.logger.Info(ctx, "run ended", zap.String("status", string(domain.StatusOf(report))))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel()
	r.active, r.cancel = "", nil
	if report != nil {
		r.last = report
	}
}

// Cancel stops the active run if its ID matches. It reports whether a run
// was cancelled.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == "" || r.active != runID {
		return false
	}
	r.cancel()
	return true
}

// Active returns the ID of the running run, or "".
func (r *Runner) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Last returns the report of the most recently finished run.
func (r *Runner) Last() *domain.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Wait blocks until no run is active.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels any active run and waits for it, bounded by ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("runner shutdown timed out"), ctx.Err())
	}
}
