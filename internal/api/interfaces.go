package api

import (
	"context"
	"time"

	"github.com/conneradamsmaine/playgroundd/internal/session"
	"github.com/conneradamsmaine/playgroundd/internal/store"
)

// SessionService abstracts the session runtime operations the handlers
// drive.
type SessionService interface {
	CreateSession(ctx context.Context, playsetID int64, clientIP, userAgent string) (*session.CreateResult, error)
	TerminateSession(ctx context.Context, sessionID, reason string) bool
	TerminateSessionWithToken(ctx context.Context, sessionID, token, reason string) bool
	TerminateByPlayset(ctx context.Context, playsetID int64, reason string) int
	TerminateBySocket(ctx context.Context, wsID, reason string) bool
	TerminateAll(ctx context.Context, reason string) int
	RuntimeSnapshot() *session.Snapshot
}

// PlaysetService lists the templates exposed to clients.
type PlaysetService interface {
	ListEnabled() ([]*store.Playset, error)
}

// AdminReads are the persisted views served on the admin endpoints.
type AdminReads interface {
	ListRecentSessions(limit int) ([]*store.SessionListItem, error)
	ListRecentLogs(limit int) ([]*store.LogEntry, error)
	ListLogsForSession(sessionID string, limit int) ([]*store.LogEntry, error)
}

// RateLimiter guards the public endpoints per client IP.
type RateLimiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) bool
}

// StatusCache memoizes the status snapshot between admin polls.
type StatusCache interface {
	GetOrSet(ctx context.Context, key string, ttl time.Duration, dst any, compute func() (any, error)) error
}
