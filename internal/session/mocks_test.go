package session

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/conneradamsmaine/playgroundd/internal/driver"
	"github.com/conneradamsmaine/playgroundd/internal/store"
)

type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Boot(ctx context.Context, opts driver.BootOpts) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) Exec(ctx context.Context, containerID, command string) (*driver.ExecResult, error) {
	args := m.Called(ctx, containerID, command)
	if res := args.Get(0); res != nil {
		return res.(*driver.ExecResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDriver) Remove(ctx context.Context, containerID string) {
	m.Called(ctx, containerID)
}

func (m *MockDriver) ListManaged(ctx context.Context) ([]driver.ContainerInfo, error) {
	args := m.Called(ctx)
	if infos := args.Get(0); infos != nil {
		return infos.([]driver.ContainerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDriver) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CountActiveSessionsForPlayset(playsetID int64) (int, error) {
	args := m.Called(playsetID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) CreateSession(sess *store.Session) error {
	args := m.Called(sess)
	return args.Error(0)
}

func (m *MockStore) GetSessionBySessionID(sessionID string) (*store.Session, error) {
	args := m.Called(sessionID)
	if sess := args.Get(0); sess != nil {
		return sess.(*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpdateSessionStatus(sessionID, status string, update store.StatusUpdate) error {
	args := m.Called(sessionID, status, update)
	return args.Error(0)
}

func (m *MockStore) CreateSocketConnection(wsID, sessionID string) error {
	args := m.Called(wsID, sessionID)
	return args.Error(0)
}

func (m *MockStore) CloseSocketConnection(wsID string, code int, reason string) error {
	args := m.Called(wsID, code, reason)
	return args.Error(0)
}

func (m *MockStore) AppendLog(entry *store.LogEntry) error {
	args := m.Called(entry)
	return args.Error(0)
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) GetByID(id int64) (*store.Playset, error) {
	args := m.Called(id)
	if ps := args.Get(0); ps != nil {
		return ps.(*store.Playset), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) InvalidatePrefix(ctx context.Context, prefix string) {
	m.Called(ctx, prefix)
}

// fakeSocket records everything sent to it so tests can assert on
// delivery order and close behaviour.
type fakeSocket struct {
	mu       sync.Mutex
	messages []any
	closed   bool
	code     int
	reason   string
}

func (f *fakeSocket) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, v)
	return nil
}

func (f *fakeSocket) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.code = code
	f.reason = reason
}

func (f *fakeSocket) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeSocket) closeState() (bool, int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.code, f.reason
}
