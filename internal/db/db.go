// Package db provides the SQLite connection and schema for the session ledger.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath keeps the ledger for the lifetime of the process only.
const MemoryPath = ":memory:"

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = MemoryPath
	}

	dsn := dbPath + "?_journal_mode=WAL"
	if dbPath == MemoryPath {
		dsn = dbPath
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to :memory: would get its own empty database.
	if dbPath == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	// Session ledger - append-only history of actions and status reports
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			controller TEXT,
			component TEXT,
			request_id TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON session_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_component ON session_ledger(component, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create session_ledger table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
