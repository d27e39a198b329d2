package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/conneradamsmaine/playgroundd/internal/session"
	"github.com/conneradamsmaine/playgroundd/internal/store"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) CreateSession(ctx context.Context, playsetID int64, clientIP, userAgent string) (*session.CreateResult, error) {
	args := m.Called(ctx, playsetID, clientIP, userAgent)
	if res := args.Get(0); res != nil {
		return res.(*session.CreateResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) TerminateSession(ctx context.Context, sessionID, reason string) bool {
	args := m.Called(ctx, sessionID, reason)
	return args.Bool(0)
}

func (m *MockSessionService) TerminateSessionWithToken(ctx context.Context, sessionID, token, reason string) bool {
	args := m.Called(ctx, sessionID, token, reason)
	return args.Bool(0)
}

func (m *MockSessionService) TerminateByPlayset(ctx context.Context, playsetID int64, reason string) int {
	args := m.Called(ctx, playsetID, reason)
	return args.Int(0)
}

func (m *MockSessionService) TerminateBySocket(ctx context.Context, wsID, reason string) bool {
	args := m.Called(ctx, wsID, reason)
	return args.Bool(0)
}

func (m *MockSessionService) TerminateAll(ctx context.Context, reason string) int {
	args := m.Called(ctx, reason)
	return args.Int(0)
}

func (m *MockSessionService) RuntimeSnapshot() *session.Snapshot {
	args := m.Called()
	if snap := args.Get(0); snap != nil {
		return snap.(*session.Snapshot)
	}
	return nil
}

type MockPlaysetService struct {
	mock.Mock
}

func (m *MockPlaysetService) ListEnabled() ([]*store.Playset, error) {
	args := m.Called()
	if playsets := args.Get(0); playsets != nil {
		return playsets.([]*store.Playset), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockAdminReads struct {
	mock.Mock
}

func (m *MockAdminReads) ListRecentSessions(limit int) ([]*store.SessionListItem, error) {
	args := m.Called(limit)
	if items := args.Get(0); items != nil {
		return items.([]*store.SessionListItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdminReads) ListRecentLogs(limit int) ([]*store.LogEntry, error) {
	args := m.Called(limit)
	if entries := args.Get(0); entries != nil {
		return entries.([]*store.LogEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdminReads) ListLogsForSession(sessionID string, limit int) ([]*store.LogEntry, error) {
	args := m.Called(sessionID, limit)
	if entries := args.Get(0); entries != nil {
		return entries.([]*store.LogEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

// allowAllLimiter never throttles.
type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, string, time.Duration, int) bool { return true }

// denyLimiter always throttles.
type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, time.Duration, int) bool { return false }

// passthroughCache always recomputes.
type passthroughCache struct{}

func (passthroughCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, dst any, compute func() (any, error)) error {
	v, err := compute()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
