package reaper

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/conneradamsmaine/playgroundd/internal/driver"
	"github.com/conneradamsmaine/playgroundd/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListLiveSessions() ([]*store.Session, error) {
	args := m.Called()
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpdateSessionStatus(sessionID, status string, update store.StatusUpdate) error {
	args := m.Called(sessionID, status, update)
	return args.Error(0)
}

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) ListManaged(ctx context.Context) ([]driver.ContainerInfo, error) {
	args := m.Called(ctx)
	if infos := args.Get(0); infos != nil {
		return infos.([]driver.ContainerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) Remove(ctx context.Context, containerID string) {
	m.Called(ctx, containerID)
}

type MockManager struct {
	mock.Mock
}

func (m *MockManager) SweepIdle(ctx context.Context) int {
	args := m.Called(ctx)
	return args.Int(0)
}
