package session

import (
	"context"

	"github.com/conneradamsmaine/playgroundd/internal/store"
)

// Store is the persistence surface the runtime depends on. Backed by
// the SQLite store in production, mocked in tests.
type Store interface {
	CountActiveSessionsForPlayset(playsetID int64) (int, error)
	CreateSession(sess *store.Session) error
	GetSessionBySessionID(sessionID string) (*store.Session, error)
	UpdateSessionStatus(sessionID, status string, update store.StatusUpdate) error
	CreateSocketConnection(wsID, sessionID string) error
	CloseSocketConnection(wsID string, code int, reason string) error
	AppendLog(entry *store.LogEntry) error
}

// Registry resolves playset templates. Lookups always go back to the
// store so admin limit changes apply to the next session.
type Registry interface {
	GetByID(id int64) (*store.Playset, error)
}

// Cache receives best-effort invalidation signals after every mutation.
type Cache interface {
	InvalidatePrefix(ctx context.Context, prefix string)
}

// Socket is one attached client connection. Implementations must make
// Send safe for concurrent use; Close must tolerate repeated calls.
type Socket interface {
	Send(v any) error
	Close(code int, reason string)
}
