package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

func insertRun(t *testing.T, db *sql.DB, run domain.RunRecord) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := (&RunRepo{}).CreateTx(context.Background(), tx, run); err != nil {
		tx.Rollback()
		t.Fatalf("CreateTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestRunRepo_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &RunRepo{}

	insertRun(t, db, domain.RunRecord{
		RunID:     "run-1",
		Status:    domain.RunRunning,
		TaskCount: 3,
		TasksJSON: `[{"id":"a"}]`,
		StartedAt: 100,
	})

	got, err := repo.GetByID(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.RunRunning || got.TaskCount != 3 || got.StartedAt != 100 {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.TasksJSON != `[{"id":"a"}]` {
		t.Errorf("TasksJSON = %q", got.TasksJSON)
	}
	if got.StoppedEarly {
		t.Error("StoppedEarly should default to false")
	}
}

func TestRunRepo_GetNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := (&RunRepo{}).GetByID(context.Background(), db, "missing")
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunRepo_Finish(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &RunRepo{}

	insertRun(t, db, domain.RunRecord{RunID: "run-1", Status: domain.RunRunning, StartedAt: 100})

	tx, _ := db.Begin()
	err := repo.FinishTx(ctx, tx, domain.RunRecord{
		RunID:          "run-1",
		Status:         domain.RunFailed,
		WavesCompleted: 1,
		StoppedEarly:   true,
		StopReason:     "wave 1 failed: b=ConsensusExhausted",
		FinishedAt:     200,
	})
	if err != nil {
		t.Fatalf("FinishTx: %v", err)
	}
	tx.Commit()

	got, err := repo.GetByID(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.RunFailed || !got.StoppedEarly || got.WavesCompleted != 1 || got.FinishedAt != 200 {
		t.Errorf("unexpected finished run: %+v", got)
	}
	if got.StartedAt != 100 {
		t.Errorf("StartedAt changed to %d", got.StartedAt)
	}

	tx, _ = db.Begin()
	defer tx.Rollback()
	if err := repo.FinishTx(ctx, tx, domain.RunRecord{RunID: "ghost"}); !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound for unknown run, got %v", err)
	}
}

func TestRunRepo_ListNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	insertRun(t, db, domain.RunRecord{RunID: "old", Status: domain.RunSucceeded, StartedAt: 1})
	insertRun(t, db, domain.RunRecord{RunID: "mid", Status: domain.RunFailed, StartedAt: 2})
	insertRun(t, db, domain.RunRecord{RunID: "new", Status: domain.RunRunning, StartedAt: 3})

	runs, err := (&RunRepo{}).List(ctx, db, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 || runs[0].RunID != "new" || runs[2].RunID != "old" {
		t.Fatalf("unexpected order: %+v", runs)
	}

	runs, err = (&RunRepo{}).List(ctx, db, 2)
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(runs) != 2 || runs[1].RunID != "mid" {
		t.Errorf("unexpected limited list: %+v", runs)
	}
}
