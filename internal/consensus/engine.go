// Package consensus derives one trusted output from many non-deterministic
// worker outputs using first-to-ahead-by-k voting.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/logging"
	"github.com/Rogers-F/wavequorum/internal/metrics"
)

// Engine runs consensus for one task at a time. It holds no per-run state,
// so a single Engine may serve concurrent RunConsensus calls.
type Engine struct {
	worker     domain.WorkerPort
	validator  domain.ValidationPort
	normalizer Normalizer
	calls      *semaphore.Weighted
	rate       *rate.Limiter
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidator sets the port used to discard invalid candidates.
func WithValidator(v domain.ValidationPort) Option {
	return func(e *Engine) { e.validator = v }
}

// WithNormalizer overrides the default whitespace normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(e *Engine) { e.normalizer = n }
}

// WithCallLimiter bounds in-flight worker calls across every run sharing sem.
func WithCallLimiter(sem *semaphore.Weighted) Option {
	return func(e *Engine) { e.calls = sem }
}

// WithRateLimiter paces worker calls.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.rate = l }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for ProducedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over the given worker.
func NewEngine(worker domain.WorkerPort, opts ...Option) *Engine {
	e := &Engine{
		worker:     worker,
		normalizer: WhitespaceNormalizer{},
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type callKind int

const (
	callVote callKind = iota
	callError
	callTimeout
	callDiscarded
	callPanic
)

func (k callKind) label() string {
	switch k {
	case callVote:
		return metrics.CallVote
	case callTimeout:
		return metrics.CallTimeout
	case callDiscarded:
		return metrics.CallDiscarded
	case callPanic:
		return metrics.CallPanic
	default:
		return metrics.CallError
	}
}

type callResult struct {
	kind       callKind
	output     domain.CandidateOutput
	err        error
	violations []string
}

// RunConsensus executes the first-to-ahead-by-k algorithm for task. Worker and
// validator failures are absorbed as abstentions; the only error returned is
// an invalid cfg.
func (e *Engine) RunConsensus(ctx context.Context, task domain.Task, cfg domain.ConsensusConfig) (*domain.ConsensusResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	ctx = logging.WithTaskID(ctx, task.ID)

	t := newTally()
	res := &domain.ConsensusResult{}
	seq := 0

	finish := func(outcome domain.Outcome, winner *domain.CandidateOutput) *domain.ConsensusResult {
		res.Outcome = outcome
		res.Winner = winner
		if outcome == domain.OutcomeCancelled {
			res.Votes = map[string]int{}
		} else {
			res.Votes = t.snapshot()
		}
		metrics.ConsensusOutcomes.WithLabelValues(string(outcome)).Inc()
		metrics.ConsensusDuration.Observe(time.Since(start).Seconds())
		e.logger.Info(ctx, "consensus finished",
			zap.String("outcome", string(outcome)),
			zap.Int("considered", res.ConsideredCount),
			zap.Int("discarded", res.DiscardedCount),
			zap.Int("distinct_keys", len(res.Votes)),
		)
		return res
	}

	for res.ConsideredCount < cfg.MaxWorkers {
		if ctx.Err() != nil {
			return finish(domain.OutcomeCancelled, nil), nil
		}

		n := min(cfg.BatchSize, cfg.MaxWorkers-res.ConsideredCount)
		for r := range e.launchBatch(ctx, task, cfg, n) {
			seq++
			res.ConsideredCount++
			metrics.WorkerCalls.WithLabelValues(r.kind.label()).Inc()

			switch r.kind {
			case callVote:
				r.output.Seq = seq
				t.add(r.output)
			case callDiscarded:
				res.DiscardedCount++
				e.logger.Debug(ctx, "candidate discarded", zap.Strings("violations", r.violations))
			default:
				e.logger.Debug(ctx, "worker abstained", zap.String("result", r.kind.label()), zap.Error(r.err))
			}
		}

		if ctx.Err() != nil {
			return finish(domain.OutcomeCancelled, nil), nil
		}
		if w, ok := t.winner(cfg.KThreshold); ok {
			return finish(domain.OutcomeWon, &w), nil
		}
	}

	if len(t.votes) == 0 && res.DiscardedCount > 0 {
		return finish(domain.OutcomeAllDiscarded, nil), nil
	}
	if top, _, ok := t.leader(); ok {
		return finish(domain.OutcomeExhausted, &top), nil
	}
	return finish(domain.OutcomeExhausted, nil), nil
}

// launchBatch starts n concurrent calls and returns a channel that yields
// each result as it completes and is closed once all n have reported.
func (e *Engine) launchBatch(ctx context.Context, task domain.Task, cfg domain.ConsensusConfig, n int) <-chan callResult {
	results := make(chan callResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.call(ctx, task, cfg)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// call performs one bounded worker call plus optional validation.
func (e *Engine) call(ctx context.Context, task domain.Task, cfg domain.ConsensusConfig) callResult {
	if e.calls != nil {
		if err := e.calls.Acquire(ctx, 1); err != nil {
			return callResult{kind: callError, err: err}
		}
		defer e.calls.Release(1)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.PerWorkerTimeout)
	defer cancel()

	if e.rate != nil {
		if err := e.rate.Wait(callCtx); err != nil {
			return callResult{kind: callError, err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	out, err := e.execute(callCtx, task)
	if err != nil {
		var engErr *domain.EngineError
		switch {
		case errors.As(err, &engErr) && engErr.Code == domain.ErrWorkerPanic.Code:
			return callResult{kind: callPanic, err: err}
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return callResult{kind: callTimeout, err: domain.ErrWorkerTimeout}
		default:
			return callResult{kind: callError, err: err}
		}
	}

	out.Key = e.normalizer.Normalize(out.Raw)
	if out.ProducedAt.IsZero() {
		out.ProducedAt = e.now()
	}

	if cfg.DiscardInvalid && e.validator != nil {
		valCtx, valCancel := context.WithTimeout(ctx, cfg.PerWorkerTimeout)
		defer valCancel()
		violations, err := e.validator.Validate(valCtx, out)
		if err != nil {
			return callResult{kind: callError, err: domain.WrapEngineError(domain.ErrValidatorFailed.Code, "validate candidate", err)}
		}
		if len(violations) > 0 {
			return callResult{kind: callDiscarded, violations: violations}
		}
	}
	return callResult{kind: callVote, output: out}
}

// execute runs the worker in its own goroutine so a worker that ignores ctx
// cannot hold the batch past its deadline.
func (e *Engine) execute(ctx context.Context, task domain.Task) (domain.CandidateOutput, error) {
	type reply struct {
		out domain.CandidateOutput
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: domain.NewEngineError(domain.ErrWorkerPanic.Code, fmt.Sprintf("%s: %v", domain.ErrWorkerPanic.Message, p))}
			}
		}()
		out, err := e.worker.Execute(ctx, task)
		done <- reply{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return domain.CandidateOutput{}, ctx.Err()
	}
}
