package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SocketConnection is the persisted record of one websocket attachment.
type SocketConnection struct {
	WsID        string     `json:"wsId"`
	SessionID   string     `json:"sessionId"`
	ConnectedAt time.Time  `json:"connectedAt"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
	CloseCode   *int       `json:"closeCode,omitempty"`
	CloseReason string     `json:"closeReason,omitempty"`
}

// LogEntry is an append-only playground log row. Never mutated; pruned
// only by external retention policy.
type LogEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	WsID      *string   `json:"wsId"`
	Level     string    `json:"level"`
	Event     string    `json:"event"`
	Message   string    `json:"message"`
	Payload   *string   `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Store) CreateSocketConnection(wsID, sessionID string) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO playground_socket_connections (ws_id, session_id, connected_at)
			 VALUES (?, ?, ?)`,
			wsID, sessionID, time.Now().UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting socket connection: %w", err)
	}
	return nil
}

func (s *Store) CloseSocketConnection(wsID string, code int, reason string) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`UPDATE playground_socket_connections
			 SET closed_at = ?, close_code = ?, close_reason = ?
			 WHERE ws_id = ? AND closed_at IS NULL`,
			time.Now().UTC(), code, nullable(reason), wsID,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("closing socket connection: %w", err)
	}
	return nil
}

// ListSocketConnectionsForSession returns a session's attachment
// history, newest first.
func (s *Store) ListSocketConnectionsForSession(sessionID string) ([]*SocketConnection, error) {
	rows, err := s.db.Query(
		`SELECT ws_id, session_id, connected_at, closed_at, close_code, close_reason
		 FROM playground_socket_connections
		 WHERE session_id = ? ORDER BY connected_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing socket connections: %w", err)
	}
	defer rows.Close()

	var conns []*SocketConnection
	for rows.Next() {
		var conn SocketConnection
		var closedAt sql.NullTime
		var closeCode sql.NullInt64
		var closeReason sql.NullString
		err := rows.Scan(&conn.WsID, &conn.SessionID, &conn.ConnectedAt, &closedAt, &closeCode, &closeReason)
		if err != nil {
			return nil, fmt.Errorf("scanning socket connection: %w", err)
		}
		if closedAt.Valid {
			t := closedAt.Time
			conn.ClosedAt = &t
		}
		if closeCode.Valid {
			code := int(closeCode.Int64)
			conn.CloseCode = &code
		}
		conn.CloseReason = closeReason.String
		conns = append(conns, &conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating socket connections: %w", err)
	}
	return conns, nil
}

func (s *Store) AppendLog(entry *LogEntry) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO playground_logs (session_id, ws_id, level, event, message, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.SessionID, entry.WsID, entry.Level, entry.Event, entry.Message,
			entry.Payload, time.Now().UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting log entry: %w", err)
	}
	return nil
}

func (s *Store) ListRecentLogs(limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, ws_id, level, event, message, payload, created_at
		 FROM playground_logs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

func (s *Store) ListLogsForSession(sessionID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, ws_id, level, event, message, payload, created_at
		 FROM playground_logs WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing session logs: %w", err)
	}
	defer rows.Close()
	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]*LogEntry, error) {
	var entries []*LogEntry
	for rows.Next() {
		var entry LogEntry
		var wsID, payload sql.NullString
		err := rows.Scan(
			&entry.ID, &entry.SessionID, &wsID, &entry.Level, &entry.Event,
			&entry.Message, &payload, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		if wsID.Valid {
			entry.WsID = &wsID.String
		}
		if payload.Valid {
			entry.Payload = &payload.String
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating logs: %w", err)
	}
	return entries, nil
}
