package reaper

import (
	"context"

	"github.com/conneradamsmaine/playgroundd/internal/driver"
	"github.com/conneradamsmaine/playgroundd/internal/store"
)

// Store is the persistence surface the reaper reconciles against.
type Store interface {
	ListLiveSessions() ([]*store.Session, error)
	UpdateSessionStatus(sessionID, status string, update store.StatusUpdate) error
}

// Engine is the container engine surface needed for orphan cleanup.
type Engine interface {
	ListManaged(ctx context.Context) ([]driver.ContainerInfo, error)
	Remove(ctx context.Context, containerID string)
}

// Manager is the session runtime the periodic sweep drives.
type Manager interface {
	SweepIdle(ctx context.Context) int
}
