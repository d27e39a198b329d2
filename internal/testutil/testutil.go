package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/conneradamsmaine/playgroundd/internal/config"
	"github.com/conneradamsmaine/playgroundd/internal/store"
)

// TestConfig returns a Config with sensible test defaults: mock engine,
// memory-only cache, relaxed rate limits.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.AdminToken = "test-admin-token"
	cfg.Playground.RuntimeMode = "mock"
	cfg.Playground.CreateRatePerMinute = 1000
	cfg.Playground.TerminateRatePerMinute = 1000
	return cfg
}

// TestSession returns a persisted session record in active status.
func TestSession(sessionID string, playsetID int64) *store.Session {
	now := time.Now().UTC()
	return &store.Session{
		SessionID: sessionID,
		PlaysetID: playsetID,
		Status:    "active",
		JoinToken: "test-join-token",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestStore creates a file-backed SQLite store under t.TempDir. A
// shared file is required because the pool opens several connections and
// in-memory databases are per connection.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "playground.db"), 0)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
