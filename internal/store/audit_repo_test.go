package store

import (
	"context"
	"testing"
	"time"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

func TestAuditRepo_RecordAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &AuditRepo{}
	now := time.Now().Unix()

	records := []domain.AuditRecord{
		{ID: "a1", RunID: "run-1", Category: "snapshot", Actor: "cli", Action: "revert", DetailJSON: `{"id":"abc"}`, Severity: "warn", CreatedAt: now},
		{ID: "a2", RunID: "run-1", Category: "run", Actor: "ipc", Action: "cancel", DetailJSON: "{}", Severity: "info", CreatedAt: now + 1},
		{ID: "a3", Category: "snapshot", Actor: "cli", Action: "squash", DetailJSON: "{}", Severity: "info", CreatedAt: now + 2},
	}
	for _, r := range records {
		if err := repo.Record(ctx, db, r); err != nil {
			t.Fatalf("Record %s: %v", r.ID, err)
		}
	}

	got, err := repo.ListByRun(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Severity != "warn" || got[0].DetailJSON != `{"id":"abc"}` {
		t.Errorf("fields not round-tripped: %+v", got[0])
	}

	got, err = repo.ListByCategory(ctx, db, "snapshot")
	if err != nil {
		t.Fatalf("ListByCategory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshot records, got %d", len(got))
	}
	if got[1].RunID != "" {
		t.Errorf("RunID = %q, want empty", got[1].RunID)
	}
}

func TestAuditRepo_DuplicateID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &AuditRepo{}

	rec := domain.AuditRecord{ID: "dup", Category: "run", Action: "start", DetailJSON: "{}", Severity: "info", CreatedAt: 1}
	if err := repo.Record(ctx, db, rec); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := repo.Record(ctx, db, rec); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}
