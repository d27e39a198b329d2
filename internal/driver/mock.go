package driver

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a drop-in Driver for environments without a container engine:
// boot is a no-op success and exec echoes the command with exit 0.
type Mock struct {
	mu       sync.Mutex
	runtimes map[string]string // container handle -> runtime label
}

func NewMock() *Mock {
	return &Mock{runtimes: make(map[string]string)}
}

func (m *Mock) Boot(ctx context.Context, opts BootOpts) (string, error) {
	handle := "mock-" + opts.SessionID
	m.mu.Lock()
	m.runtimes[handle] = opts.Runtime
	m.mu.Unlock()
	return handle, nil
}

func (m *Mock) Exec(ctx context.Context, containerID, command string) (*ExecResult, error) {
	m.mu.Lock()
	runtime := m.runtimes[containerID]
	m.mu.Unlock()
	return &ExecResult{
		ExitCode: 0,
		Stdout:   fmt.Sprintf("mock:%s$ %s", runtime, command),
	}, nil
}

func (m *Mock) Remove(ctx context.Context, containerID string) {
	m.mu.Lock()
	delete(m.runtimes, containerID)
	m.mu.Unlock()
}

func (m *Mock) ListManaged(ctx context.Context) ([]ContainerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []ContainerInfo
	for handle := range m.runtimes {
		result = append(result, ContainerInfo{
			ContainerID: handle,
			SessionID:   handle[len("mock-"):],
		})
	}
	return result, nil
}

func (m *Mock) Ping(ctx context.Context) error {
	return nil
}
