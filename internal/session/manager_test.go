package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/conneradamsmaine/playgroundd/internal/config"
	"github.com/conneradamsmaine/playgroundd/internal/driver"
	"github.com/conneradamsmaine/playgroundd/internal/playset"
	"github.com/conneradamsmaine/playgroundd/internal/store"
	"github.com/conneradamsmaine/playgroundd/protocol"
)

type managerFixture struct {
	manager  *Manager
	store    *MockStore
	registry *MockRegistry
	driver   *MockDriver
	cache    *MockCache
	cfg      *config.PlaygroundConfig
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:    &MockStore{},
		registry: &MockRegistry{},
		driver:   &MockDriver{},
		cache:    &MockCache{},
		cfg: &config.PlaygroundConfig{
			Enabled:               true,
			RuntimeMode:           "mock",
			CommandTimeoutMs:      20000,
			MaxOutputBytes:        64000,
			MaxCommandsPerSession: 120,
			CommandRateWindowMs:   10000,
			MaxCommandsPerWindow:  10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.manager = NewManager(f.cfg, f.store, f.registry, f.driver, f.cache, logger)
	f.cache.On("InvalidatePrefix", mock.Anything, mock.Anything).Maybe()
	f.store.On("AppendLog", mock.Anything).Return(nil).Maybe()
	return f
}

func testPlayset() *store.Playset {
	return &store.Playset{
		ID:                 1,
		Name:               "Node Shell",
		Slug:               "node-shell",
		Runtime:            "node",
		DockerImage:        "node:22-alpine",
		StartCommand:       driver.DefaultStartCommand,
		Enabled:            1,
		MaxSessions:        6,
		IdleTimeoutSeconds: 900,
	}
}

// activeSession boots a session to active through the normal path.
func (f *managerFixture) activeSession(t *testing.T) *CreateResult {
	t.Helper()
	f.registry.On("GetByID", int64(1)).Return(testPlayset(), nil)
	f.store.On("CountActiveSessionsForPlayset", int64(1)).Return(0, nil)
	f.store.On("CreateSession", mock.Anything).Return(nil)
	f.store.On("UpdateSessionStatus", mock.Anything, StatusActive, mock.Anything).Return(nil)
	f.driver.On("Boot", mock.Anything, mock.Anything).Return("container-1", nil)

	res, err := f.manager.CreateSession(context.Background(), 1, "198.51.100.7", "test-agent")
	require.NoError(t, err)
	require.Equal(t, StatusActive, res.Status)
	return res
}

func TestCreateSessionActivates(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)

	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.JoinToken)
	assert.Equal(t, "node-shell", res.Playset.Slug)

	snap := f.manager.RuntimeSnapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, res.SessionID, snap.Sessions[0].SessionID)
	assert.Equal(t, StatusActive, snap.Sessions[0].Status)
	assert.Equal(t, "container-1", snap.Sessions[0].ContainerID)
}

func TestCreateSessionWhenDisabled(t *testing.T) {
	f := newManagerFixture(t)
	f.cfg.Enabled = false

	_, err := f.manager.CreateSession(context.Background(), 1, "", "")
	assert.ErrorIs(t, err, ErrPlaygroundDisabled)
	f.store.AssertNotCalled(t, "CreateSession", mock.Anything)
}

func TestCreateSessionDisabledPlayset(t *testing.T) {
	f := newManagerFixture(t)
	ps := testPlayset()
	ps.Enabled = 0
	f.registry.On("GetByID", int64(1)).Return(ps, nil)

	_, err := f.manager.CreateSession(context.Background(), 1, "", "")
	assert.ErrorIs(t, err, playset.ErrDisabled)
	f.store.AssertNotCalled(t, "CreateSession", mock.Anything)
}

func TestCreateSessionAtCapacity(t *testing.T) {
	f := newManagerFixture(t)
	f.registry.On("GetByID", int64(1)).Return(testPlayset(), nil)
	f.store.On("CountActiveSessionsForPlayset", int64(1)).Return(6, nil)

	_, err := f.manager.CreateSession(context.Background(), 1, "", "")
	assert.ErrorIs(t, err, ErrAtCapacity)
	f.store.AssertNotCalled(t, "CreateSession", mock.Anything)
	f.driver.AssertNotCalled(t, "Boot", mock.Anything, mock.Anything)
}

func TestCreateSessionBootFailure(t *testing.T) {
	f := newManagerFixture(t)
	f.registry.On("GetByID", int64(1)).Return(testPlayset(), nil)
	f.store.On("CountActiveSessionsForPlayset", int64(1)).Return(0, nil)
	f.store.On("CreateSession", mock.Anything).Return(nil)
	f.store.On("UpdateSessionStatus", mock.Anything, StatusFailed, mock.MatchedBy(func(u store.StatusUpdate) bool {
		return u.Ended && u.Reason != nil && *u.Reason == "image pull denied"
	})).Return(nil)
	f.driver.On("Boot", mock.Anything, mock.Anything).Return("", &driver.BootError{Detail: "image pull denied"})

	res, err := f.manager.CreateSession(context.Background(), 1, "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "image pull denied", res.Reason)

	// Failed sessions do not linger in memory.
	assert.Empty(t, f.manager.RuntimeSnapshot().Sessions)
}

func TestTerminateSessionIsIdempotent(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)
	f.store.On("UpdateSessionStatus", res.SessionID, StatusStopped, mock.Anything).Return(nil)
	f.driver.On("Remove", mock.Anything, "container-1").Once()

	assert.True(t, f.manager.TerminateSession(context.Background(), res.SessionID, "manual-shutdown"))
	f.store.On("GetSessionBySessionID", res.SessionID).Return(&store.Session{
		SessionID: res.SessionID,
		Status:    StatusStopped,
	}, nil)
	assert.False(t, f.manager.TerminateSession(context.Background(), res.SessionID, "manual-shutdown"))

	f.driver.AssertExpectations(t)
	assert.Empty(t, f.manager.RuntimeSnapshot().Sessions)
}

func TestTerminateUnknownSession(t *testing.T) {
	f := newManagerFixture(t)
	f.store.On("GetSessionBySessionID", "nope").Return(nil, nil)
	assert.False(t, f.manager.TerminateSession(context.Background(), "nope", "manual-shutdown"))
}

func TestTerminateWithTokenRejectsWrongToken(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)
	f.store.On("GetSessionBySessionID", res.SessionID).Return(&store.Session{
		SessionID: res.SessionID,
		Status:    StatusActive,
		JoinToken: res.JoinToken,
	}, nil)

	assert.False(t, f.manager.TerminateSessionWithToken(context.Background(), res.SessionID, "wrong-token", ""))
	assert.Len(t, f.manager.RuntimeSnapshot().Sessions, 1)
}

func TestTerminateWithTokenAccepted(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)
	f.store.On("UpdateSessionStatus", res.SessionID, StatusStopped, mock.Anything).Return(nil)
	f.driver.On("Remove", mock.Anything, "container-1")

	assert.True(t, f.manager.TerminateSessionWithToken(context.Background(), res.SessionID, res.JoinToken, "client-shutdown"))
	assert.Empty(t, f.manager.RuntimeSnapshot().Sessions)
}

func TestTerminateClosesSocketsWithReason(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)
	f.store.On("CreateSocketConnection", mock.Anything, res.SessionID).Return(nil)
	f.store.On("UpdateSessionStatus", res.SessionID, StatusStopped, mock.Anything).Return(nil)
	f.driver.On("Remove", mock.Anything, "container-1")

	sock := &fakeSocket{}
	_, err := f.manager.Attach(context.Background(), res.SessionID, res.JoinToken, sock, "198.51.100.7:1234")
	require.NoError(t, err)

	require.True(t, f.manager.TerminateSession(context.Background(), res.SessionID, "idle-timeout"))

	closed, code, reason := sock.closeState()
	assert.True(t, closed)
	assert.Equal(t, 1000, code)
	assert.Equal(t, "Session terminated: idle-timeout", reason)

	// The stopped log and state frames broadcast while the socket is
	// still attached, log first.
	logIdx, stateIdx := -1, -1
	for i, msg := range sock.sent() {
		switch v := msg.(type) {
		case protocol.Log:
			if v.Entry.Event == "session-stopped" {
				logIdx = i
				assert.Equal(t, "Session stopped (idle-timeout).", v.Entry.Message)
			}
		case protocol.State:
			if v.Status == StatusStopped {
				stateIdx = i
				assert.Equal(t, "idle-timeout", v.Reason)
			}
		}
	}
	require.GreaterOrEqual(t, logIdx, 0, "session-stopped log never reached the attached socket")
	require.GreaterOrEqual(t, stateIdx, 0, "stopped state frame never reached the attached socket")
	assert.Less(t, logIdx, stateIdx)
}

func TestSocketErrorBroadcastsLog(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)
	f.store.On("CreateSocketConnection", mock.Anything, res.SessionID).Return(nil)

	sock := &fakeSocket{}
	wsID, err := f.manager.Attach(context.Background(), res.SessionID, res.JoinToken, sock, "")
	require.NoError(t, err)

	f.manager.SocketError(context.Background(), res.SessionID, wsID, "read tcp: connection reset by peer")

	var got *protocol.Log
	for _, msg := range sock.sent() {
		if lg, ok := msg.(protocol.Log); ok && lg.Entry.Event == "ws-error" {
			got = &lg
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "error", got.Entry.Level)
	assert.Equal(t, "Websocket error.", got.Entry.Message)
	require.NotNil(t, got.Entry.WsID)
	assert.Equal(t, wsID, *got.Entry.WsID)

	// Unknown session is a no-op.
	f.manager.SocketError(context.Background(), "missing", "ws-x", "boom")
}

func TestAttachRejectsBadCredentials(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)

	_, err := f.manager.Attach(context.Background(), "missing-session", "token", &fakeSocket{}, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.manager.Attach(context.Background(), res.SessionID, "wrong-token", &fakeSocket{}, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAttachDeliversWelcomeFirst(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)
	f.store.On("CreateSocketConnection", mock.Anything, res.SessionID).Return(nil)

	sock := &fakeSocket{}
	wsID, err := f.manager.Attach(context.Background(), res.SessionID, res.JoinToken, sock, "198.51.100.7:1234")
	require.NoError(t, err)
	require.NotEmpty(t, wsID)

	sent := sock.sent()
	require.NotEmpty(t, sent)
	welcome, ok := sent[0].(protocol.Welcome)
	require.True(t, ok, "first frame must be welcome, got %T", sent[0])
	assert.Equal(t, res.SessionID, welcome.SessionID)
	assert.Equal(t, wsID, welcome.WsID)
	assert.Equal(t, StatusActive, welcome.Status)
	assert.Equal(t, "node", welcome.Runtime)
}

func TestDetachKeepsSessionRunning(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)
	f.store.On("CreateSocketConnection", mock.Anything, res.SessionID).Return(nil)
	f.store.On("CloseSocketConnection", mock.Anything, 1001, "client gone").Return(nil)

	sock := &fakeSocket{}
	wsID, err := f.manager.Attach(context.Background(), res.SessionID, res.JoinToken, sock, "")
	require.NoError(t, err)

	f.manager.Detach(context.Background(), res.SessionID, wsID, 1001, "client gone")

	snap := f.manager.RuntimeSnapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Zero(t, snap.Sessions[0].SocketCount)
	assert.Empty(t, snap.Sockets)
}

func TestTerminateBySocket(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)
	f.store.On("CreateSocketConnection", mock.Anything, res.SessionID).Return(nil)
	f.store.On("UpdateSessionStatus", res.SessionID, StatusStopped, mock.Anything).Return(nil)
	f.driver.On("Remove", mock.Anything, "container-1")

	wsID, err := f.manager.Attach(context.Background(), res.SessionID, res.JoinToken, &fakeSocket{}, "")
	require.NoError(t, err)

	assert.True(t, f.manager.TerminateBySocket(context.Background(), wsID, ""))
	assert.False(t, f.manager.TerminateBySocket(context.Background(), wsID, ""))
}

func TestSweepIdleHonorsFloor(t *testing.T) {
	f := newManagerFixture(t)
	ps := testPlayset()
	ps.IdleTimeoutSeconds = 1
	f.registry.On("GetByID", int64(1)).Return(ps, nil)
	f.store.On("CountActiveSessionsForPlayset", int64(1)).Return(0, nil)
	f.store.On("CreateSession", mock.Anything).Return(nil)
	f.store.On("UpdateSessionStatus", mock.Anything, StatusActive, mock.Anything).Return(nil)
	f.driver.On("Boot", mock.Anything, mock.Anything).Return("container-1", nil)

	res, err := f.manager.CreateSession(context.Background(), 1, "", "")
	require.NoError(t, err)

	// 20s idle is under the 30s safety floor even though the playset
	// asks for 1s.
	f.manager.mu.RLock()
	sess := f.manager.sessions[res.SessionID]
	f.manager.mu.RUnlock()
	sess.mu.Lock()
	sess.lastActivityAt = time.Now().Add(-20 * time.Second)
	sess.mu.Unlock()
	assert.Zero(t, f.manager.SweepIdle(context.Background()))

	f.store.On("UpdateSessionStatus", res.SessionID, StatusStopped, mock.MatchedBy(func(u store.StatusUpdate) bool {
		return u.Reason != nil && *u.Reason == "idle-timeout"
	})).Return(nil)
	f.driver.On("Remove", mock.Anything, "container-1")

	sess.mu.Lock()
	sess.lastActivityAt = time.Now().Add(-40 * time.Second)
	sess.mu.Unlock()
	assert.Equal(t, 1, f.manager.SweepIdle(context.Background()))
	assert.Empty(t, f.manager.RuntimeSnapshot().Sessions)
}

func TestSweepIdleSkipsStartingSessions(t *testing.T) {
	f := newManagerFixture(t)
	res := f.activeSession(t)

	f.manager.mu.RLock()
	sess := f.manager.sessions[res.SessionID]
	f.manager.mu.RUnlock()
	sess.mu.Lock()
	sess.status = StatusStarting
	sess.lastActivityAt = time.Now().Add(-2 * time.Hour)
	sess.mu.Unlock()

	assert.Zero(t, f.manager.SweepIdle(context.Background()))
}

func TestTerminateByPlayset(t *testing.T) {
	f := newManagerFixture(t)
	f.activeSession(t)
	_, err := f.manager.CreateSession(context.Background(), 1, "", "")
	require.NoError(t, err)
	f.store.On("UpdateSessionStatus", mock.Anything, StatusStopped, mock.Anything).Return(nil)
	f.driver.On("Remove", mock.Anything, "container-1")

	assert.Equal(t, 2, f.manager.TerminateByPlayset(context.Background(), 1, "admin-playset-shutdown"))
	assert.Empty(t, f.manager.RuntimeSnapshot().Sessions)
}

func TestTerminateAll(t *testing.T) {
	f := newManagerFixture(t)
	f.activeSession(t)
	_, err := f.manager.CreateSession(context.Background(), 1, "", "")
	require.NoError(t, err)
	f.store.On("UpdateSessionStatus", mock.Anything, StatusStopped, mock.Anything).Return(nil)
	f.driver.On("Remove", mock.Anything, "container-1")

	assert.Equal(t, 2, f.manager.TerminateAll(context.Background(), "server-shutdown"))
	snap := f.manager.RuntimeSnapshot()
	assert.Zero(t, snap.SessionCount)
	assert.Zero(t, snap.SocketCount)
}
