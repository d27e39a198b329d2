package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"

	"github.com/conneradamsmaine/playgroundd/internal/store"
)

// Session statuses. Transitions are monotonic:
// starting → active → stopped, starting → failed, active → failed.
// Terminal sessions are evicted from memory; their record persists.
const (
	StatusStarting = "starting"
	StatusActive   = "active"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// Session is one live playground run. All mutable state is guarded by
// mu; the Manager is the only writer.
type Session struct {
	mu sync.Mutex

	sessionID string
	joinToken string
	playset   *store.Playset

	status      string
	containerID string
	reason      string

	createdAt      time.Time
	lastActivityAt time.Time

	commandCount    int
	windowStartedAt time.Time
	windowCount     int

	sockets map[string]Socket
}

func (s *Session) terminal() bool {
	return s.status == StatusStopped || s.status == StatusFailed
}

func (s *Session) touchLocked() {
	s.lastActivityAt = time.Now()
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()
}

// broadcast sends a message to every attached socket.
func (s *Session) broadcast(v any) {
	s.mu.Lock()
	sockets := make([]Socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()
	for _, sock := range sockets {
		sock.Send(v)
	}
}

func (s *Session) socketSend(wsID string, v any) {
	s.mu.Lock()
	sock := s.sockets[wsID]
	s.mu.Unlock()
	if sock != nil {
		sock.Send(v)
	}
}

// socketRef is the manager's bookkeeping for one attachment.
type socketRef struct {
	wsID          string
	sessionID     string
	connectedAt   time.Time
	remoteAddress string
}

// newJoinToken mints the opaque secret that authorizes socket
// attachment and client-side termination.
func newJoinToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// tokenEqual compares tokens in constant time.
func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SessionSnapshot is the admin-facing view of one live session.
type SessionSnapshot struct {
	SessionID      string    `json:"sessionId"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	PlaysetID      int64     `json:"playsetId"`
	PlaysetName    string    `json:"playsetName"`
	PlaysetRuntime string    `json:"playsetRuntime"`
	ContainerID    string    `json:"containerId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	SocketCount    int       `json:"socketCount"`
}

// SocketSnapshot is the admin-facing view of one live attachment.
type SocketSnapshot struct {
	WsID          string    `json:"wsId"`
	SessionID     string    `json:"sessionId"`
	ConnectedAt   time.Time `json:"connectedAt"`
	RemoteAddress string    `json:"remoteAddress,omitempty"`
}

// Snapshot is the operational view served by the status endpoint.
type Snapshot struct {
	RuntimeMode  string            `json:"runtimeMode"`
	SessionCount int               `json:"sessionCount"`
	SocketCount  int               `json:"socketCount"`
	Sessions     []SessionSnapshot `json:"sessions"`
	Sockets      []SocketSnapshot  `json:"sockets"`
}
