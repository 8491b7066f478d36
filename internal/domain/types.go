// Package domain defines the core types for the wave/consensus engine.
package domain

import (
	"fmt"
	"time"
)

// Task is one unit of work in a run. Immutable once scheduled.
type Task struct {
	ID          string           `json:"id" koanf:"id"`
	Description string           `json:"description" koanf:"description"`
	DependsOn   []string         `json:"depends_on,omitempty" koanf:"depends_on"`
	Consensus   *ConsensusConfig `json:"consensus,omitempty" koanf:"consensus"`
}

// TaskState is the scheduler-owned lifecycle state of a task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskReady     TaskState = "ready"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// IsTerminal reports whether no further transition is expected.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// FailureReason qualifies a Failed task outcome.
type FailureReason string

const (
	ReasonNone               FailureReason = ""
	ReasonConsensusExhausted FailureReason = "ConsensusExhausted"
	ReasonValidationRejected FailureReason = "ValidationRejected"
	ReasonBlocked            FailureReason = "BlockedByDependencyFailure"
	ReasonCyclicDependency   FailureReason = "CyclicDependency"
	ReasonRolledBackWithWave FailureReason = "RolledBackWithWave"
	ReasonCancelled          FailureReason = "Cancelled"
	ReasonSnapshotFailed     FailureReason = "SnapshotFailed"
)

// CandidateOutput is one worker's result for a task.
type CandidateOutput struct {
	Raw        string    `json:"raw"`
	Key        string    `json:"normalized_key"`
	ProducedAt time.Time `json:"produced_at"`
	// Seq is the completion order within one consensus run, starting at 1.
	Seq int `json:"seq"`
}

// ProducedBefore orders candidates by production time, then completion order.
func (c CandidateOutput) ProducedBefore(o CandidateOutput) bool {
	if !c.ProducedAt.Equal(o.ProducedAt) {
		return c.ProducedAt.Before(o.ProducedAt)
	}
	return c.Seq < o.Seq
}

// ConsensusConfig tunes one consensus run.
type ConsensusConfig struct {
	KThreshold       int           `json:"k_threshold" koanf:"k_threshold"`
	MaxWorkers       int           `json:"max_workers" koanf:"max_workers"`
	BatchSize        int           `json:"batch_size" koanf:"batch_size"`
	PerWorkerTimeout time.Duration `json:"per_worker_timeout" koanf:"per_worker_timeout"`
	DiscardInvalid   bool          `json:"discard_invalid" koanf:"discard_invalid"`
}

// DefaultConsensusConfig returns the first-to-ahead-by-2 defaults.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		KThreshold:       2,
		MaxWorkers:       7,
		BatchSize:        3,
		PerWorkerTimeout: 2 * time.Minute,
		DiscardInvalid:   true,
	}
}

// Validate checks the bounds required by the consensus algorithm.
func (c ConsensusConfig) Validate() error {
	var problems []string
	if c.KThreshold < 1 {
		problems = append(problems, "k_threshold must be >= 1")
	}
	if c.MaxWorkers < c.KThreshold {
		problems = append(problems, fmt.Sprintf("max_workers (%d) must be >= k_threshold (%d)", c.MaxWorkers, c.KThreshold))
	}
	if c.BatchSize < 1 {
		problems = append(problems, "batch_size must be >= 1")
	}
	if c.PerWorkerTimeout <= 0 {
		problems = append(problems, "per_worker_timeout must be positive")
	}
	if len(problems) > 0 {
		return NewEngineError(ErrConsensusConfigInvalid.Code, fmt.Sprintf("%s: %v", ErrConsensusConfigInvalid.Message, problems))
	}
	return nil
}

// Outcome classifies how a consensus run ended.
type Outcome string

const (
	OutcomeWon          Outcome = "Won"
	OutcomeExhausted    Outcome = "Exhausted"
	OutcomeAllDiscarded Outcome = "AllDiscarded"
	OutcomeCancelled    Outcome = "Cancelled"
)

// ConsensusResult is the aggregated vote for one task.
type ConsensusResult struct {
	// Winner is authoritative only when Outcome is Won. On Exhausted it is
	// the advisory top candidate, or nil when every call abstained.
	Winner          *CandidateOutput `json:"winner,omitempty"`
	Votes           map[string]int   `json:"votes"`
	ConsideredCount int              `json:"considered_count"`
	DiscardedCount  int              `json:"discarded_count"`
	Outcome         Outcome          `json:"outcome"`
}

// Snapshot is an immutable checkpoint of workspace content.
type Snapshot struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskOutcome is the terminal state of a task at the end of a run.
type TaskOutcome struct {
	TaskID    string           `json:"task_id"`
	State     TaskState        `json:"state"`
	Reason    FailureReason    `json:"reason,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	Wave      int              `json:"wave,omitempty"`
	Output    *CandidateOutput `json:"output,omitempty"`
	Consensus *ConsensusResult `json:"consensus,omitempty"`
}

// RunReport enumerates every task's terminal outcome.
type RunReport struct {
	RunID          string                 `json:"run_id"`
	PerTask        map[string]TaskOutcome `json:"per_task"`
	WavesCompleted int                    `json:"waves_completed"`
	StoppedEarly   bool                   `json:"stopped_early"`
	StopReason     string                 `json:"stop_reason,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     time.Time              `json:"finished_at"`
}

// Failed returns the outcomes in the Failed state.
func (r *RunReport) Failed() []TaskOutcome {
	var out []TaskOutcome
	for _, o := range r.PerTask {
		if o.State == TaskFailed {
			out = append(out, o)
		}
	}
	return out
}
