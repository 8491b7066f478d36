package domain

import "context"

// WorkerPort executes one task and returns a candidate output. Implementations
// are opaque and non-deterministic; the call must honor ctx's deadline.
// Only Raw (and optionally ProducedAt) is read from the returned candidate.
type WorkerPort interface {
	Execute(ctx context.Context, task Task) (CandidateOutput, error)
}

// WorkerFunc adapts a function to WorkerPort.
type WorkerFunc func(ctx context.Context, task Task) (CandidateOutput, error)

// Execute calls f.
func (f WorkerFunc) Execute(ctx context.Context, task Task) (CandidateOutput, error) {
	return f(ctx, task)
}

// ValidationPort inspects a candidate output for structural violations.
// An empty violation set means acceptance.
type ValidationPort interface {
	Validate(ctx context.Context, output CandidateOutput) ([]string, error)
}

// SnapshotStore is the single arbiter of workspace state transitions.
type SnapshotStore interface {
	Create(ctx context.Context, message string) (string, error)
	RevertToLatest(ctx context.Context) error
	RevertTo(ctx context.Context, id string) error
	Squash(ctx context.Context, fromID, toID, message string) (string, error)
	// History returns snapshots newest first; limit <= 0 returns all.
	History(ctx context.Context, limit int) ([]Snapshot, error)
}
