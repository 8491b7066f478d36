package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

// EventRepo handles persistence for RunEvent records.
type EventRepo struct{}

// AppendTx inserts a run event within an existing transaction. A repeated
// (run_id, seq_no) yields ErrDuplicateEvent.
func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, event domain.RunEvent) error {
	const q = `INSERT INTO run_events (run_id, seq_no, event_type, wave, task_id, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		event.RunID,
		event.SeqNo,
		event.EventType,
		event.Wave,
		event.TaskID,
		event.PayloadJSON,
		event.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.NewEngineError(domain.ErrDuplicateEvent.Code,
				fmt.Sprintf("%s: run %s seq %d", domain.ErrDuplicateEvent.Message, event.RunID, event.SeqNo))
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// NextSeqTx returns the next sequence number for a run.
func (r *EventRepo) NextSeqTx(ctx context.Context, tx *sql.Tx, runID string) (int64, error) {
	const q = `SELECT COALESCE(MAX(seq_no), 0) + 1 FROM run_events WHERE run_id = ?`
	var next int64
	if err := tx.QueryRowContext(ctx, q, runID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next event seq: %w", err)
	}
	return next, nil
}

// ListByRun returns events for a run with sequence numbers greater than sinceSeq,
// ordered by sequence number ascending.
func (r *EventRepo) ListByRun(ctx context.Context, db *sql.DB, runID string, sinceSeq int64) ([]domain.RunEvent, error) {
	const q = `SELECT id, run_id, seq_no, event_type, wave, task_id, payload_json, created_at
FROM run_events
WHERE run_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, runID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.SeqNo, &e.EventType, &e.Wave, &e.TaskID, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
