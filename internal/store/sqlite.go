// Package store provides the SQLite run journal.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'running',
	task_count      INTEGER NOT NULL DEFAULT 0,
	tasks_json      TEXT NOT NULL DEFAULT '[]',
	waves_completed INTEGER NOT NULL DEFAULT 0,
	stopped_early   INTEGER NOT NULL DEFAULT 0,
	stop_reason     TEXT NOT NULL DEFAULT '',
	started_at      INTEGER NOT NULL,
	finished_at     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

CREATE TABLE IF NOT EXISTS run_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	seq_no       INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	wave         INTEGER NOT NULL DEFAULT -1,
	task_id      TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	UNIQUE(run_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_seq ON run_events(run_id, seq_no);

CREATE TABLE IF NOT EXISTS task_outcomes (
	run_id         TEXT NOT NULL,
	task_id        TEXT NOT NULL,
	state          TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	detail         TEXT NOT NULL DEFAULT '',
	wave           INTEGER NOT NULL DEFAULT 0,
	output         TEXT NOT NULL DEFAULT '',
	normalized_key TEXT NOT NULL DEFAULT '',
	consensus_json TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, task_id)
);

CREATE TABLE IF NOT EXISTS wave_snapshots (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	wave          INTEGER NOT NULL,
	snapshot_id   TEXT NOT NULL,
	task_ids_json TEXT NOT NULL DEFAULT '[]',
	result        TEXT NOT NULL DEFAULT 'pending',
	created_at    INTEGER NOT NULL,
	UNIQUE(run_id, wave)
);

CREATE TABLE IF NOT EXISTS audit_records (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	detail_json TEXT NOT NULL DEFAULT '{}',
	severity    TEXT NOT NULL DEFAULT 'info',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_records(run_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
