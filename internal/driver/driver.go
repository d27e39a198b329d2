// Package driver wraps the host's container engine behind a small
// interface so the session runtime can run against Docker or a mock
// engine interchangeably.
package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ExecResult is the captured outcome of one command. A non-zero exit
// code is a normal result, not an error.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// BootError carries the engine's diagnostic output when a container
// failed to start.
type BootError struct {
	Detail string
}

func (e *BootError) Error() string {
	return e.Detail
}

// BootOpts describes the container to start for a session.
type BootOpts struct {
	SessionID    string
	Image        string
	StartCommand string
	Runtime      string
}

// ContainerInfo identifies one engine container owned by the playground.
type ContainerInfo struct {
	ContainerID string
	SessionID   string
}

// Driver is the contract between the session runtime and the engine.
//
// Boot starts an isolated container and returns its handle. Exec runs a
// command inside an existing container with a bounded timeout and
// bounded captured output. Remove is best-effort forced removal and
// never fails the caller; it runs on every termination path.
type Driver interface {
	Boot(ctx context.Context, opts BootOpts) (string, error)
	Exec(ctx context.Context, containerID, command string) (*ExecResult, error)
	Remove(ctx context.Context, containerID string)
	ListManaged(ctx context.Context) ([]ContainerInfo, error)
	Ping(ctx context.Context) error
}

// DefaultStartCommand keeps the container alive for later execs.
const DefaultStartCommand = "tail -f /dev/null"

// containerName derives a safe container name from the session id, with
// a random fallback when sanitizing leaves nothing.
func containerName(sessionID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(sessionID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if len(cleaned) > 40 {
		cleaned = cleaned[:40]
	}
	if cleaned == "" {
		cleaned = strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	}
	return "pg-" + cleaned
}

// clampOutput truncates captured output to maxBytes with a visible
// marker instead of erroring.
func clampOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes - 96
	if cut < 128 {
		cut = 128
	}
	if cut > len(s) {
		cut = len(s)
	}
	return fmt.Sprintf("%s\n...[truncated]", s[:cut])
}
