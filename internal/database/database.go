package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	*sqlStore
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY between
	// our own transactions.
	conn.SetMaxOpenConns(1)
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db := &DB{sqlStore: &sqlStore{
		conn:   conn,
		name:   "sqlite",
		dbType: "SQLite",
		now:    time.Now,
	}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_keys (
		key TEXT PRIMARY KEY,
		expires_at INTEGER
	);
	CREATE TABLE IF NOT EXISTS kv_strings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS kv_zsets (
		key TEXT NOT NULL,
		member TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (key, member)
	);
	CREATE TABLE IF NOT EXISTS kv_hashes (
		key TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (key, field)
	);
	CREATE INDEX IF NOT EXISTS idx_kv_keys_expires_at ON kv_keys(expires_at);
	CREATE INDEX IF NOT EXISTS idx_kv_zsets_score ON kv_zsets(key, score DESC);
	`
	_, err := db.conn.Exec(schema)
	return err
}
