package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEngineError_IsMatchesByCode(t *testing.T) {
	err := NewEngineError(ErrCyclicDependency.Code, "cycle: a -> b -> a")
	wrapped := fmt.Errorf("execute: %w", err)

	if !errors.Is(wrapped, ErrCyclicDependency) {
		t.Fatal("expected errors.Is to match by code")
	}
	if errors.Is(wrapped, ErrUnknownSnapshot) {
		t.Fatal("did not expect match against a different code")
	}
}

func TestEngineError_Message(t *testing.T) {
	err := WrapEngineError(ErrSnapshotFailed.Code, "create snapshot", errors.New("disk full"))
	want := "engine error -32073: create snapshot: disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConsensusConfig_Validate(t *testing.T) {
	if err := DefaultConsensusConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	bad := ConsensusConfig{KThreshold: 3, MaxWorkers: 2, BatchSize: 0}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, ErrConsensusConfigInvalid) {
		t.Errorf("expected ErrConsensusConfigInvalid, got %v", err)
	}
}

func TestCandidateOutput_ProducedBefore(t *testing.T) {
	now := time.Now()
	a := CandidateOutput{ProducedAt: now, Seq: 2}
	b := CandidateOutput{ProducedAt: now, Seq: 3}
	c := CandidateOutput{ProducedAt: now.Add(-time.Second), Seq: 9}

	if !a.ProducedBefore(b) {
		t.Error("equal timestamps should fall back to completion order")
	}
	if !c.ProducedBefore(a) {
		t.Error("earlier timestamp should win regardless of seq")
	}
}
