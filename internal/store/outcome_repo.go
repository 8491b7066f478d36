package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

// OutcomeRepo handles persistence for per-task outcomes.
type OutcomeRepo struct{}

// UpsertTx writes the outcome of one task in a run, replacing any earlier row.
func (r *OutcomeRepo) UpsertTx(ctx context.Context, tx *sql.Tx, runID string, o domain.TaskOutcome) error {
	var output, key, consensus string
	if o.Output != nil {
		output, key = o.Output.Raw, o.Output.Key
	}
	if o.Consensus != nil {
		b, err := json.Marshal(o.Consensus)
		if err != nil {
			return fmt.Errorf("marshal consensus: %w", err)
		}
		consensus = string(b)
	}

	const q = `INSERT INTO task_outcomes (run_id, task_id, state, reason, detail, wave, output, normalized_key, consensus_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, task_id) DO UPDATE SET
	state = excluded.state,
	reason = excluded.reason,
	detail = excluded.detail,
	wave = excluded.wave,
	output = excluded.output,
	normalized_key = excluded.normalized_key,
	consensus_json = excluded.consensus_json`
	_, err := tx.ExecContext(ctx, q,
		runID,
		o.TaskID,
		string(o.State),
		string(o.Reason),
		o.Detail,
		o.Wave,
		output,
		key,
		consensus,
	)
	if err != nil {
		return fmt.Errorf("upsert task outcome: %w", err)
	}
	return nil
}

// ListByRun returns the outcomes of a run ordered by task ID.
func (r *OutcomeRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]domain.TaskOutcome, error) {
	const q = `SELECT task_id, state, reason, detail, wave, output, normalized_key, consensus_json
FROM task_outcomes
WHERE run_id = ?
ORDER BY task_id ASC`

	rows, err := db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("list task outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.TaskOutcome
	for rows.Next() {
		var (
			o                          domain.TaskOutcome
			state, reason              string
			output, key, consensusJSON string
		)
		if err := rows.Scan(&o.TaskID, &state, &reason, &o.Detail, &o.Wave, &output, &key, &consensusJSON); err != nil {
			return nil, fmt.Errorf("scan task outcome: %w", err)
		}
		o.State = domain.TaskState(state)
		o.Reason = domain.FailureReason(reason)
		if o.State == domain.TaskSucceeded {
			o.Output = &domain.CandidateOutput{Raw: output, Key: key}
		}
		if consensusJSON != "" {
			var res domain.ConsensusResult
			if err := json.Unmarshal([]byte(consensusJSON), &res); err != nil {
				return nil, fmt.Errorf("unmarshal consensus for %s: %w", o.TaskID, err)
			}
			o.Consensus = &res
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
