package store

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		root_path TEXT NOT NULL UNIQUE,
		created_at_ns INTEGER NOT NULL,
		updated_at_ns INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id),
		title TEXT NOT NULL,
		session_id TEXT,
		model TEXT,
		created_at_ns INTEGER NOT NULL,
		updated_at_ns INTEGER NOT NULL,
		archived_at_ns INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_threads_workspace ON threads(workspace_id);`,
	`CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at_ns DESC);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		event_type TEXT NOT NULL,
		message_key TEXT,
		payload_json TEXT,
		created_at_ns INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread_created ON messages(thread_id, created_at_ns);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_thread_key ON messages(thread_id, message_key) WHERE message_key IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value_json TEXT NOT NULL
	);`,
}

func migrate(db *sql.DB) error {
	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, schemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}
