package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Session is the persisted record of one playground session. The
// in-memory runtime entry is authoritative while the session lives; this
// row is what survives restarts and feeds capacity counts.
type Session struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"sessionId"`
	PlaysetID   int64      `json:"playsetId"`
	Status      string     `json:"status"`
	JoinToken   string     `json:"-"`
	ContainerID string     `json:"containerId,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ClientIP    string     `json:"clientIp,omitempty"`
	UserAgent   string     `json:"userAgent,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// SessionListItem is a session joined with its playset, for admin reads.
type SessionListItem struct {
	Session
	PlaysetName    string `json:"playsetName"`
	PlaysetSlug    string `json:"playsetSlug"`
	PlaysetRuntime string `json:"playsetRuntime"`
}

// StatusUpdate carries the optional fields of a status transition. Nil
// pointers leave the column untouched.
type StatusUpdate struct {
	ContainerID *string
	Reason      *string
	Ended       bool
}

// CountActiveSessionsForPlayset counts persisted sessions in starting or
// active status. This is the authoritative capacity count across process
// restarts.
func (s *Store) CountActiveSessionsForPlayset(playsetID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM playground_sessions
		 WHERE playset_id = ? AND status IN ('starting', 'active')`,
		playsetID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return count, nil
}

func (s *Store) CreateSession(sess *Session) error {
	now := time.Now().UTC()
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO playground_sessions (
				session_id, playset_id, status, join_token, container_id, reason,
				client_ip, user_agent, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.SessionID, sess.PlaysetID, sess.Status, sess.JoinToken,
			nullable(sess.ContainerID), nullable(sess.Reason),
			nullable(sess.ClientIP), nullable(sess.UserAgent), now, now,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

const sessionColumns = `id, session_id, playset_id, status, join_token, container_id,
	reason, client_ip, user_agent, created_at, updated_at, ended_at`

func (s *Store) GetSessionBySessionID(sessionID string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM playground_sessions WHERE session_id = ?`,
		sessionID,
	)
	return scanStoreSession(row)
}

func (s *Store) UpdateSessionStatus(sessionID, status string, update StatusUpdate) error {
	query := `UPDATE playground_sessions SET status = ?, updated_at = ?`
	args := []any{status, time.Now().UTC()}
	if update.ContainerID != nil {
		query += `, container_id = ?`
		args = append(args, nullable(*update.ContainerID))
	}
	if update.Reason != nil {
		query += `, reason = ?`
		args = append(args, nullable(*update.Reason))
	}
	if update.Ended {
		query += `, ended_at = ?`
		args = append(args, time.Now().UTC())
	}
	query += ` WHERE session_id = ?`
	args = append(args, sessionID)

	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(query, args...)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return checkRowAffected(result, sessionID)
}

// ListLiveSessions returns persisted sessions still marked starting or
// active. After a restart these are orphans to reconcile.
func (s *Store) ListLiveSessions() ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT ` + sessionColumns + ` FROM playground_sessions
		 WHERE status IN ('starting', 'active')
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing live sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanStoreSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating live sessions: %w", err)
	}
	return sessions, nil
}

// ListRecentSessions returns the newest sessions joined with playset
// metadata (admin read path).
func (s *Store) ListRecentSessions(limit int) ([]*SessionListItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT s.id, s.session_id, s.playset_id, s.status, s.join_token, s.container_id,
			s.reason, s.client_ip, s.user_agent, s.created_at, s.updated_at, s.ended_at,
			p.name, p.slug, p.runtime
		 FROM playground_sessions s
		 INNER JOIN playsets p ON p.id = s.playset_id
		 ORDER BY s.created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var items []*SessionListItem
	for rows.Next() {
		var item SessionListItem
		var containerID, reason, clientIP, userAgent sql.NullString
		var endedAt sql.NullTime
		err := rows.Scan(
			&item.ID, &item.SessionID, &item.PlaysetID, &item.Status, &item.JoinToken,
			&containerID, &reason, &clientIP, &userAgent,
			&item.CreatedAt, &item.UpdatedAt, &endedAt,
			&item.PlaysetName, &item.PlaysetSlug, &item.PlaysetRuntime,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning session list item: %w", err)
		}
		item.ContainerID = containerID.String
		item.Reason = reason.String
		item.ClientIP = clientIP.String
		item.UserAgent = userAgent.String
		if endedAt.Valid {
			t := endedAt.Time
			item.EndedAt = &t
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return items, nil
}

func scanStoreSession(row scannable) (*Session, error) {
	var sess Session
	var containerID, reason, clientIP, userAgent sql.NullString
	var endedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.SessionID, &sess.PlaysetID, &sess.Status, &sess.JoinToken,
		&containerID, &reason, &clientIP, &userAgent,
		&sess.CreatedAt, &sess.UpdatedAt, &endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.ContainerID = containerID.String
	sess.Reason = reason.String
	sess.ClientIP = clientIP.String
	sess.UserAgent = userAgent.String
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
