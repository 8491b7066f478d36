package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

// Journal persists run progress. Every event is written in its own
// transaction together with the row it describes.
type Journal struct {
	DB           *sql.DB
	RunRepo      *RunRepo
	EventRepo    *EventRepo
	OutcomeRepo  *OutcomeRepo
	SnapshotRepo *WaveSnapshotRepo
	AuditRepo    *AuditRepo

	mu  sync.Mutex
	now func() time.Time
}

// NewJournal creates a Journal backed by db.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{
		DB:           db,
		RunRepo:      &RunRepo{},
		EventRepo:    &EventRepo{},
		OutcomeRepo:  &OutcomeRepo{},
		SnapshotRepo: &WaveSnapshotRepo{},
		AuditRepo:    &AuditRepo{},
		now:          time.Now,
	}
}

// RunStarted records a new run and its task set.
func (j *Journal) RunStarted(ctx context.Context, runID string, tasks []domain.Task) error {
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	now := j.now().Unix()
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}

	return j.withEvent(ctx, runID, domain.EventRunStarted, -1, "", map[string]any{"task_ids": ids},
		func(tx *sql.Tx) error {
			return j.RunRepo.CreateTx(ctx, tx, domain.RunRecord{
				RunID:     runID,
				Status:    domain.RunRunning,
				TaskCount: len(tasks),
				TasksJSON: string(tasksJSON),
				StartedAt: now,
			})
		})
}

// WaveStarted records the pre-wave checkpoint.
func (j *Journal) WaveStarted(ctx context.Context, runID string, wave int, snapshotID string, taskIDs []string) error {
	payload := map[string]any{"snapshot_id": snapshotID, "task_ids": taskIDs}
	return j.withEvent(ctx, runID, domain.EventWaveStarted, wave, "", payload, func(tx *sql.Tx) error {
		return j.SnapshotRepo.SaveTx(ctx, tx, domain.WaveSnapshotRecord{
			RunID:      runID,
			Wave:       wave,
			SnapshotID: snapshotID,
			TaskIDs:    taskIDs,
			CreatedAt:  j.now().Unix(),
		})
	})
}

// WaveFinished marks a wave committed or rolled back.
func (j *Journal) WaveFinished(ctx context.Context, runID string, wave int, committed bool) error {
	result := "rolled_back"
	if committed {
		result = "committed"
	}
	return j.withEvent(ctx, runID, domain.EventWaveFinished, wave, "", map[string]any{"result": result},
		func(tx *sql.Tx) error {
			return j.SnapshotRepo.SetResultTx(ctx, tx, runID, wave, result)
		})
}

// TaskFinished stores a task's terminal outcome.
func (j *Journal) TaskFinished(ctx context.Context, runID string, outcome domain.TaskOutcome) error {
	payload := map[string]any{"state": outcome.State, "reason": outcome.Reason}
	return j.withEvent(ctx, runID, domain.EventTaskFinished, outcome.Wave, outcome.TaskID, payload,
		func(tx *sql.Tx) error {
			return j.OutcomeRepo.UpsertTx(ctx, tx, runID, outcome)
		})
}

// RunFinished records the run summary.
func (j *Journal) RunFinished(ctx context.Context, report *domain.RunReport) error {
	status := domain.StatusOf(report)
	payload := map[string]any{
		"status":          status,
		"waves_completed": report.WavesCompleted,
		"stopped_early":   report.StoppedEarly,
	}
	return j.withEvent(ctx, report.RunID, domain.EventRunFinished, -1, "", payload, func(tx *sql.Tx) error {
		return j.RunRepo.FinishTx(ctx, tx, domain.RunRecord{
			RunID:          report.RunID,
			Status:         status,
			WavesCompleted: report.WavesCompleted,
			StoppedEarly:   report.StoppedEarly,
			StopReason:     report.StopReason,
			FinishedAt:     j.now().Unix(),
		})
	})
}

// Audit records an operator action. detail is marshalled to JSON.
func (j *Journal) Audit(ctx context.Context, runID, category, actor, action, severity string, detail any) error {
	detailJSON := "{}"
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		detailJSON = string(b)
	}
	if severity == "" {
		severity = "info"
	}
	return j.AuditRepo.Record(ctx, j.DB, domain.AuditRecord{
		ID:         uuid.NewString(),
		RunID:      runID,
		Category:   category,
		Actor:      actor,
		Action:     action,
		DetailJSON: detailJSON,
		Severity:   severity,
		CreatedAt:  j.now().Unix(),
	})
}

// Run returns a run record with its outcomes.
func (j *Journal) Run(ctx context.Context, runID string) (*domain.RunRecord, []domain.TaskOutcome, error) {
	run, err := j.RunRepo.GetByID(ctx, j.DB, runID)
	if err != nil {
		return nil, nil, err
	}
	outcomes, err := j.OutcomeRepo.ListByRun(ctx, j.DB, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, outcomes, nil
}

// Events returns a run's events after sinceSeq.
func (j *Journal) Events(ctx context.Context, runID string, sinceSeq int64) ([]domain.RunEvent, error) {
	return j.EventRepo.ListByRun(ctx, j.DB, runID, sinceSeq)
}

func (j *Journal) withEvent(ctx context.Context, runID, eventType string, wave int, taskID string,
	payload any, write func(tx *sql.Tx) error) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := write(tx); err != nil {
		return err
	}
	seq, err := j.EventRepo.NextSeqTx(ctx, tx, runID)
	if err != nil {
		return err
	}
	event := domain.RunEvent{
		RunID:       runID,
		SeqNo:       seq,
		EventType:   eventType,
		Wave:        wave,
		TaskID:      taskID,
		PayloadJSON: string(payloadJSON),
		CreatedAt:   j.now().Unix(),
	}
	if err := j.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return tx.Commit()
}
