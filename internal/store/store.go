// Package store persists the skill index, sessions, message history, and
// per-session active-skill state in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"skillsense/internal/logging"
)

// schemaVersion is recorded in schema_meta on first creation.
const schemaVersion = "1"

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// StoreError indicates the persistence layer failed; it is fatal for the
// enclosing operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Open initializes the SQLite database at the given path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, storeErr("open", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr("open", err)
	}

	// A single writer avoids SQLITE_BUSY between the indexer and an
	// in-flight evaluation.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Opened store at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS skill_index (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		description TEXT,
		embedding TEXT,
		metadata TEXT,
		content_hash TEXT NOT NULL,
		indexed_at DATETIME NOT NULL,
		source TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_hashes (
		path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		last_checked DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		workspace_path TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		last_active DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		role TEXT NOT NULL,
		event_type TEXT NOT NULL,
		tool_name TEXT,
		content_preview TEXT,
		content_embedding TEXT,
		active_skills TEXT,
		logged_at DATETIME NOT NULL,
		UNIQUE(session_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS session_skills (
		session_id TEXT NOT NULL,
		skill_id TEXT NOT NULL,
		activated_at DATETIME NOT NULL,
		activation_reason TEXT,
		PRIMARY KEY (session_id, skill_id)
	);

	CREATE TABLE IF NOT EXISTS schema_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_message_log_session ON message_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_session_skills_session ON session_skills(session_id);
	CREATE INDEX IF NOT EXISTS idx_skill_index_name ON skill_index(name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return storeErr("initialize schema", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_meta (key, value) VALUES ('schema_version', ?)`,
		schemaVersion,
	); err != nil {
		return storeErr("initialize schema version", err)
	}
	return nil
}

// SchemaVersion reports the version recorded when the database was
// first created.
func (s *Store) SchemaVersion() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v string
	err := s.db.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&v)
	if err != nil {
		return "", storeErr("schema version", err)
	}
	return v, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store database connection")
	return s.db.Close()
}

// Stats returns row counts per table for the status command.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{"skill_index", "file_hashes", "sessions", "message_log", "session_skills"}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, storeErr("stats", err)
		}
		stats[table] = count
	}
	return stats, nil
}
