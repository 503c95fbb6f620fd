package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store provides access to the drover database. It is the only writer for
// project/epic/task/test/session records.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	// Writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL UNIQUE,
		status        TEXT NOT NULL DEFAULT 'active',
		total_cost    REAL NOT NULL DEFAULT 0,
		total_time    REAL NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL,
		completed_at  DATETIME
	);

	CREATE TABLE IF NOT EXISTS epics (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id  INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name        TEXT NOT NULL,
		priority    INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  DATETIME NOT NULL,
		UNIQUE(project_id, name)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		epic_id        INTEGER NOT NULL REFERENCES epics(id) ON DELETE CASCADE,
		description    TEXT NOT NULL,
		action         TEXT NOT NULL DEFAULT '',
		priority       INTEGER NOT NULL DEFAULT 0,
		done           INTEGER NOT NULL DEFAULT 0,
		done_session   INTEGER,
		session_notes  TEXT NOT NULL DEFAULT '',
		created_at     DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tests (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id       INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		category      TEXT NOT NULL DEFAULT 'functional',
		description   TEXT NOT NULL,
		steps         TEXT NOT NULL DEFAULT '[]',
		passes        INTEGER NOT NULL DEFAULT 0,
		last_session  INTEGER,
		result        TEXT NOT NULL DEFAULT '',
		created_at    DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id      INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		session_number  INTEGER NOT NULL,
		type            TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		model           TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT '',
		log_path        TEXT NOT NULL DEFAULT '',
		metrics         TEXT NOT NULL DEFAULT '',
		created_at      DATETIME NOT NULL,
		started_at      DATETIME,
		ended_at        DATETIME,
		last_heartbeat  DATETIME,
		UNIQUE(project_id, session_number)
	);

	CREATE TABLE IF NOT EXISTS quality_checks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		score       REAL NOT NULL DEFAULT 0,
		summary     TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_epics_project ON epics(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_epic ON tasks(epic_id);
	CREATE INDEX IF NOT EXISTS idx_tests_task ON tests(task_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
