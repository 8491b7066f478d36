package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/wave"
)

var _ wave.Journal = (*Journal)(nil)

func TestJournal_RunLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	j := NewJournal(db)
	j.now = func() time.Time { return time.Unix(1000, 0) }

	tasks := []domain.Task{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}
	if err := j.RunStarted(ctx, "run-1", tasks); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if err := j.WaveStarted(ctx, "run-1", 0, "s0", []string{"a"}); err != nil {
		t.Fatalf("WaveStarted: %v", err)
	}
	if err := j.WaveFinished(ctx, "run-1", 0, true); err != nil {
		t.Fatalf("WaveFinished: %v", err)
	}
	if err := j.WaveStarted(ctx, "run-1", 1, "s1", []string{"b"}); err != nil {
		t.Fatalf("WaveStarted: %v", err)
	}
	if err := j.WaveFinished(ctx, "run-1", 1, false); err != nil {
		t.Fatalf("WaveFinished: %v", err)
	}

	report := &domain.RunReport{
		RunID: "run-1",
		PerTask: map[string]domain.TaskOutcome{
			"a": {TaskID: "a", State: domain.TaskSucceeded, Output: &domain.CandidateOutput{Raw: "ok"}},
			"b": {TaskID: "b", State: domain.TaskFailed, Reason: domain.ReasonConsensusExhausted, Wave: 1},
		},
		WavesCompleted: 1,
		StoppedEarly:   true,
		StopReason:     "wave 1 failed: b=ConsensusExhausted",
	}
	for _, id := range []string{"a", "b"} {
		if err := j.TaskFinished(ctx, "run-1", report.PerTask[id]); err != nil {
			t.Fatalf("TaskFinished %s: %v", id, err)
		}
	}
	if err := j.RunFinished(ctx, report); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	run, outcomes, err := j.Run(ctx, "run-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != domain.RunFailed || run.TaskCount != 2 || run.FinishedAt != 1000 || !run.StoppedEarly {
		t.Errorf("unexpected run record: %+v", run)
	}
	var stored []domain.Task
	if err := json.Unmarshal([]byte(run.TasksJSON), &stored); err != nil || len(stored) != 2 {
		t.Errorf("tasks not stored: %q (%v)", run.TasksJSON, err)
	}
	if len(outcomes) != 2 || outcomes[1].Reason != domain.ReasonConsensusExhausted {
		t.Errorf("unexpected outcomes: %+v", outcomes)
	}

	events, err := j.Events(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	wantTypes := []string{
		domain.EventRunStarted,
		domain.EventWaveStarted, domain.EventWaveFinished,
		domain.EventWaveStarted, domain.EventWaveFinished,
		domain.EventTaskFinished, domain.EventTaskFinished,
		domain.EventRunFinished,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, e := range events {
		if e.SeqNo != int64(i+1) {
			t.Errorf("event %d SeqNo = %d", i, e.SeqNo)
		}
		if e.EventType != wantTypes[i] {
			t.Errorf("event %d type = %s, want %s", i, e.EventType, wantTypes[i])
		}
	}
	if events[5].TaskID != "a" {
		t.Errorf("task event TaskID = %q, want a", events[5].TaskID)
	}

	waves, err := j.SnapshotRepo.ListByRun(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("ListByRun waves: %v", err)
	}
	if len(waves) != 2 || waves[0].Result != "committed" || waves[1].Result != "rolled_back" {
		t.Errorf("unexpected wave records: %+v", waves)
	}
}

func TestJournal_FailedWriteLeavesNoEvent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	j := NewJournal(db)

	err := j.RunFinished(ctx, &domain.RunReport{RunID: "ghost", PerTask: map[string]domain.TaskOutcome{}})
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	events, err := j.Events(ctx, "ghost", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events after failed write, got %d", len(events))
	}
}

func TestJournal_Audit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	j := NewJournal(db)

	if err := j.Audit(ctx, "", "snapshot", "cli", "revert", "", map[string]string{"id": "abc"}); err != nil {
		t.Fatalf("Audit: %v", err)
	}
	recs, err := j.AuditRepo.ListByCategory(ctx, db, "snapshot")
	if err != nil {
		t.Fatalf("ListByCategory: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ID == "" || recs[0].Severity != "info" || recs[0].DetailJSON != `{"id":"abc"}` {
		t.Errorf("unexpected audit record: %+v", recs[0])
	}
}
