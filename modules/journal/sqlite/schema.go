package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT    NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT    NOT NULL,
		text       TEXT    NOT NULL,
		affect_tag TEXT    NOT NULL DEFAULT '',
		ts         TEXT    NOT NULL,
		excised    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_turns_live ON turns(session_id, excised, seq)`,

	`CREATE TABLE IF NOT EXISTS episodes (
		id         TEXT PRIMARY KEY,
		session_id TEXT    NOT NULL,
		first_seq  INTEGER NOT NULL,
		last_seq   INTEGER NOT NULL,
		start_time TEXT    NOT NULL,
		end_time   TEXT    NOT NULL,
		summary    TEXT    NOT NULL,
		topics     TEXT    NOT NULL DEFAULT '[]',
		affect     TEXT    NOT NULL DEFAULT '',
		decisions  TEXT    NOT NULL DEFAULT '[]',
		created_at TEXT    NOT NULL,
		archived   INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id, first_seq)`,
	`CREATE INDEX IF NOT EXISTS idx_episodes_end ON episodes(end_time)`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS episodes_fts USING fts5(
		summary,
		topics,
		content=episodes,
		content_rowid=rowid
	)`,

	`CREATE TRIGGER IF NOT EXISTS episodes_ai AFTER INSERT ON episodes BEGIN
		INSERT INTO episodes_fts(rowid, summary, topics) VALUES (new.rowid, new.summary, new.topics);
	END`,

	`CREATE TRIGGER IF NOT EXISTS episodes_ad AFTER DELETE ON episodes BEGIN
		INSERT INTO episodes_fts(episodes_fts, rowid, summary, topics) VALUES ('delete', old.rowid, old.summary, old.topics);
	END`,

	`CREATE TRIGGER IF NOT EXISTS episodes_au AFTER UPDATE ON episodes BEGIN
		INSERT INTO episodes_fts(episodes_fts, rowid, summary, topics) VALUES ('delete', old.rowid, old.summary, old.topics);
		INSERT INTO episodes_fts(rowid, summary, topics) VALUES (new.rowid, new.summary, new.topics);
	END`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
