package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

// RunRepo handles persistence for RunRecord rows.
type RunRepo struct{}

// CreateTx inserts a new run within an existing transaction.
func (r *RunRepo) CreateTx(ctx context.Context, tx *sql.Tx, run domain.RunRecord) error {
	const q = `INSERT INTO runs (run_id, status, task_count, tasks_json, waves_completed, stopped_early, stop_reason, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		run.RunID,
		string(run.Status),
		run.TaskCount,
		run.TasksJSON,
		run.WavesCompleted,
		boolToInt(run.StoppedEarly),
		run.StopReason,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishTx records the terminal summary of a run.
func (r *RunRepo) FinishTx(ctx context.Context, tx *sql.Tx, run domain.RunRecord) error {
	const q = `UPDATE runs SET
		status = ?,
		waves_completed = ?,
		stopped_early = ?,
		stop_reason = ?,
		finished_at = ?
	WHERE run_id = ?`

	res, err := tx.ExecContext(ctx, q,
		string(run.Status),
		run.WavesCompleted,
		boolToInt(run.StoppedEarly),
		run.StopReason,
		run.FinishedAt,
		run.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepo) GetByID(ctx context.Context, db *sql.DB, runID string) (*domain.RunRecord, error) {
	const q = `SELECT run_id, status, task_count, tasks_json, waves_completed, stopped_early, stop_reason, started_at, finished_at
FROM runs WHERE run_id = ?`

	run, err := scanRun(db.QueryRowContext(ctx, q, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first. limit <= 0 returns all.
func (r *RunRepo) List(ctx context.Context, db *sql.DB, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	const q = `SELECT run_id, status, task_count, tasks_json, waves_completed, stopped_early, stop_reason, started_at, finished_at
FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var (
		run     domain.RunRecord
		status  string
		stopped int
	)
	if err := row.Scan(&run.RunID, &status, &run.TaskCount, &run.TasksJSON, &run.WavesCompleted,
		&stopped, &run.StopReason, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.StoppedEarly = stopped != 0
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
