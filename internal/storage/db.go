// Package storage persists users, messages, groups and group
// membership in a local SQLite file. The real-time core only relays;
// records live here.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database inside dataDir.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "huddle.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Foreign keys and WAL mode for better concurrency.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		full_name     TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		avatar        TEXT NOT NULL DEFAULT '',
		last_seen     INTEGER NOT NULL DEFAULT 0,
		created_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		sender_id   TEXT NOT NULL,
		receiver_id TEXT NOT NULL DEFAULT '',
		group_id    TEXT NOT NULL DEFAULT '',
		text        TEXT NOT NULL DEFAULT '',
		image       TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'sent',
		reactions   TEXT NOT NULL DEFAULT '[]',
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_direct
		ON messages(sender_id, receiver_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_group
		ON messages(group_id, created_at);

	CREATE TABLE IF NOT EXISTS groups (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		owner_id   TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_id  TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS blocked_users (
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		blocked_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, blocked_id)
	);

	CREATE TABLE IF NOT EXISTS statuses (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		text       TEXT NOT NULL DEFAULT '',
		image      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_statuses_user
		ON statuses(user_id, created_at);

	CREATE TABLE IF NOT EXISTS status_views (
		status_id TEXT NOT NULL REFERENCES statuses(id) ON DELETE CASCADE,
		viewer_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		viewed_at INTEGER NOT NULL,
		PRIMARY KEY (status_id, viewer_id)
	);
`

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }
