package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

// WaveSnapshotRepo handles persistence for WaveSnapshotRecord rows.
type WaveSnapshotRepo struct{}

// SaveTx inserts the pre-wave checkpoint of a wave within an existing transaction.
func (r *WaveSnapshotRepo) SaveTx(ctx context.Context, tx *sql.Tx, rec domain.WaveSnapshotRecord) error {
	ids, err := json.Marshal(rec.TaskIDs)
	if err != nil {
		return fmt.Errorf("marshal task ids: %w", err)
	}
	result := rec.Result
	if result == "" {
		result = "pending"
	}
	const q = `INSERT INTO wave_snapshots (run_id, wave, snapshot_id, task_ids_json, result, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		rec.RunID,
		rec.Wave,
		rec.SnapshotID,
		string(ids),
		result,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save wave snapshot: %w", err)
	}
	return nil
}

// SetResultTx records how a wave resolved.
func (r *WaveSnapshotRepo) SetResultTx(ctx context.Context, tx *sql.Tx, runID string, wave int, result string) error {
	const q = `UPDATE wave_snapshots SET result = ? WHERE run_id = ? AND wave = ?`
	if _, err := tx.ExecContext(ctx, q, result, runID, wave); err != nil {
		return fmt.Errorf("set wave result: %w", err)
	}
	return nil
}

// ListByRun returns a run's wave checkpoints in wave order.
func (r *WaveSnapshotRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]domain.WaveSnapshotRecord, error) {
	const q = `SELECT run_id, wave, snapshot_id, task_ids_json, result, created_at
FROM wave_snapshots
WHERE run_id = ?
ORDER BY wave ASC`

	rows, err := db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("list wave snapshots: %w", err)
	}
	defer rows.Close()

	var recs []domain.WaveSnapshotRecord
	for rows.Next() {
		var (
			rec domain.WaveSnapshotRecord
			ids string
		)
		if err := rows.Scan(&rec.RunID, &rec.Wave, &rec.SnapshotID, &ids, &rec.Result, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wave snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &rec.TaskIDs); err != nil {
			return nil, fmt.Errorf("unmarshal task ids: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
