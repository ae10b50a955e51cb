// Package store provides SQLite-backed persistence for the recovery core.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS healing_sessions (
	id              TEXT PRIMARY KEY,
	correlation_id  TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'idle',
	max_attempts    INTEGER NOT NULL DEFAULT 2,
	timeout_minutes INTEGER NOT NULL DEFAULT 30,
	started_at_unix INTEGER NOT NULL DEFAULT 0,
	ended_at_unix   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_correlation ON healing_sessions(correlation_id);
CREATE INDEX IF NOT EXISTS idx_sessions_ended ON healing_sessions(status, ended_at_unix);

CREATE TABLE IF NOT EXISTS healing_attempts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL,
	attempt_no      INTEGER NOT NULL,
	status          TEXT NOT NULL,
	category        TEXT NOT NULL DEFAULT '',
	cause_message   TEXT NOT NULL DEFAULT '',
	plan_strategy   TEXT NOT NULL DEFAULT '',
	plan_allowed    INTEGER NOT NULL DEFAULT 0,
	plan_reason     TEXT NOT NULL DEFAULT '',
	plan_goal       TEXT NOT NULL DEFAULT '',
	confidence      REAL NOT NULL DEFAULT 0.0,
	risk            TEXT NOT NULL DEFAULT '',
	result          TEXT NOT NULL DEFAULT '',
	started_at_unix INTEGER NOT NULL DEFAULT 0,
	ended_at_unix   INTEGER NOT NULL DEFAULT 0,
	UNIQUE(session_id, attempt_no)
);
CREATE INDEX IF NOT EXISTS idx_attempts_session ON healing_attempts(session_id, attempt_no);

CREATE TABLE IF NOT EXISTS ingest_events (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source            TEXT NOT NULL,
	event_type        TEXT NOT NULL,
	external_id       TEXT NOT NULL,
	dedup_key         TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL DEFAULT '',
	priority          TEXT NOT NULL DEFAULT '',
	trigger_tag       TEXT NOT NULL DEFAULT '',
	confidence        REAL NOT NULL DEFAULT 0.0,
	requires_approval INTEGER NOT NULL DEFAULT 0,
	received_at_unix  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ingest_dedup ON ingest_events(dedup_key, id);
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
