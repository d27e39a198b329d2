// Package store persists playsets, playground sessions, socket
// connections, and log entries in SQLite. It is the durable source of
// truth the runtime reconciles against after a restart.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS playsets (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT NOT NULL,
	slug                 TEXT NOT NULL UNIQUE,
	runtime              TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	docker_image         TEXT NOT NULL,
	start_command        TEXT NOT NULL DEFAULT '',
	default_command      TEXT NOT NULL DEFAULT '',
	enabled              INTEGER NOT NULL DEFAULT 1,
	max_sessions         INTEGER NOT NULL DEFAULT 4,
	idle_timeout_seconds INTEGER NOT NULL DEFAULT 900,
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS playground_sessions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL UNIQUE,
	playset_id  INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'starting',
	join_token  TEXT NOT NULL,
	container_id TEXT,
	reason      TEXT,
	client_ip   TEXT,
	user_agent  TEXT,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	ended_at    DATETIME
);
CREATE INDEX IF NOT EXISTS idx_pg_sessions_status ON playground_sessions(status);
CREATE INDEX IF NOT EXISTS idx_pg_sessions_playset ON playground_sessions(playset_id);
CREATE TABLE IF NOT EXISTS playground_socket_connections (
	ws_id        TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	connected_at DATETIME NOT NULL,
	closed_at    DATETIME,
	close_code   INTEGER,
	close_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_pg_sockets_session ON playground_socket_connections(session_id);
CREATE TABLE IF NOT EXISTS playground_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	ws_id      TEXT,
	level      TEXT NOT NULL,
	event      TEXT NOT NULL,
	message    TEXT NOT NULL,
	payload    TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pg_logs_session ON playground_logs(session_id);
`

// DefaultMaxOpenConns is the default connection pool size for concurrent
// reads. WAL mode allows multiple readers + 1 writer.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and
// perf pragmas applied to every new connection.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}

type Store struct {
	db *sql.DB
}

// New opens the store. maxOpenConns controls the connection pool size
// (0 = default 4).
func New(dbPath string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func checkRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
