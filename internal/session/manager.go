package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneradamsmaine/playgroundd/internal/config"
	"github.com/conneradamsmaine/playgroundd/internal/driver"
	"github.com/conneradamsmaine/playgroundd/internal/playset"
	"github.com/conneradamsmaine/playgroundd/internal/store"
	"github.com/conneradamsmaine/playgroundd/protocol"
)

// statusCachePrefix is invalidated after every session, socket, or log
// mutation so cached operational snapshots refresh.
const statusCachePrefix = "playground:status:"

// minIdleTimeout floors a playset's idle timeout so a misconfigured
// playset cannot reap sessions instantly.
const minIdleTimeout = 30 * time.Second

var (
	ErrPlaygroundDisabled = errors.New("playground is disabled")
	ErrAtCapacity         = errors.New("playset is at capacity")
	ErrInvalidCredentials = errors.New("invalid session credentials")
	ErrSessionNotLive     = errors.New("session is no longer active")
)

// Manager owns every live session and is the only component that
// mutates session state. Cross-session work runs concurrently; state
// mutation for one session is serialized by that session's lock.
type Manager struct {
	cfg      *config.PlaygroundConfig
	store    Store
	registry Registry
	driver   driver.Driver
	cache    Cache
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	sockets  map[string]*socketRef
}

func NewManager(cfg *config.PlaygroundConfig, st Store, reg Registry, drv driver.Driver, c Cache, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    st,
		registry: reg,
		driver:   drv,
		cache:    c,
		logger:   logger,
		sessions: make(map[string]*Session),
		sockets:  make(map[string]*socketRef),
	}
}

// CreateResult describes the final outcome of a creation attempt. The
// status is not always active; callers must check.
type CreateResult struct {
	SessionID string
	JoinToken string
	Status    string
	Reason    string
	Playset   *store.Playset
}

// CreateSession validates playset and capacity, persists a starting
// record, then boots the container. Boot failures resolve locally into
// a failed status rather than an error.
func (m *Manager) CreateSession(ctx context.Context, playsetID int64, clientIP, userAgent string) (*CreateResult, error) {
	if !m.cfg.Enabled {
		return nil, ErrPlaygroundDisabled
	}

	ps, err := m.registry.GetByID(playsetID)
	if err != nil {
		return nil, err
	}
	if ps.Enabled != 1 {
		return nil, playset.ErrDisabled
	}

	// The persisted count is authoritative: it survives restarts and
	// covers sessions owned by a previous process.
	activeCount, err := m.store.CountActiveSessionsForPlayset(ps.ID)
	if err != nil {
		return nil, fmt.Errorf("counting active sessions: %w", err)
	}
	if activeCount >= ps.MaxSessions {
		return nil, ErrAtCapacity
	}

	sessionID := uuid.New().String()
	joinToken, err := newJoinToken()
	if err != nil {
		return nil, fmt.Errorf("minting join token: %w", err)
	}

	if err := m.store.CreateSession(&store.Session{
		SessionID: sessionID,
		PlaysetID: ps.ID,
		Status:    StatusStarting,
		JoinToken: joinToken,
		ClientIP:  clientIP,
		UserAgent: userAgent,
	}); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	m.invalidateStatusCache(ctx)

	now := time.Now()
	sess := &Session{
		sessionID:       sessionID,
		joinToken:       joinToken,
		playset:         ps,
		status:          StatusStarting,
		createdAt:       now,
		lastActivityAt:  now,
		windowStartedAt: now,
		sockets:         make(map[string]Socket),
	}
	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.mu.Unlock()

	m.emitLog(ctx, sess, nil, "info", "session-created", "Session requested.", map[string]any{
		"playsetId":   ps.ID,
		"playsetSlug": ps.Slug,
		"runtime":     ps.Runtime,
		"mode":        m.cfg.RuntimeMode,
	})

	m.bootSession(ctx, sess)

	sess.mu.Lock()
	result := &CreateResult{
		SessionID: sessionID,
		JoinToken: joinToken,
		Status:    sess.status,
		Reason:    sess.reason,
		Playset:   ps,
	}
	sess.mu.Unlock()
	return result, nil
}

func (m *Manager) bootSession(ctx context.Context, sess *Session) {
	containerID, err := m.driver.Boot(ctx, driver.BootOpts{
		SessionID:    sess.sessionID,
		Image:        sess.playset.DockerImage,
		StartCommand: sess.playset.StartCommand,
		Runtime:      sess.playset.Runtime,
	})
	if err != nil {
		reason := err.Error()
		var bootErr *driver.BootError
		if errors.As(err, &bootErr) {
			reason = bootErr.Detail
		}

		sess.mu.Lock()
		sess.status = StatusFailed
		sess.reason = reason
		sess.mu.Unlock()

		if dbErr := m.store.UpdateSessionStatus(sess.sessionID, StatusFailed, store.StatusUpdate{
			Reason: &reason,
			Ended:  true,
		}); dbErr != nil {
			m.logger.Error("persist failed session", "session_id", sess.sessionID, "error", dbErr)
		}
		m.emitLog(ctx, sess, nil, "error", "session-failed", reason, nil)

		m.mu.Lock()
		delete(m.sessions, sess.sessionID)
		m.mu.Unlock()
		m.invalidateStatusCache(ctx)
		return
	}

	sess.mu.Lock()
	sess.status = StatusActive
	sess.containerID = containerID
	sess.mu.Unlock()

	if dbErr := m.store.UpdateSessionStatus(sess.sessionID, StatusActive, store.StatusUpdate{
		ContainerID: &containerID,
	}); dbErr != nil {
		m.logger.Error("persist active session", "session_id", sess.sessionID, "error", dbErr)
	}

	message := "Session container is running."
	if m.cfg.RuntimeMode == "mock" {
		message = "Session is active in mock mode."
	}
	m.emitLog(ctx, sess, nil, "info", "session-active", message, map[string]any{
		"containerId": containerID,
	})
	m.broadcastState(sess)
	m.invalidateStatusCache(ctx)
}

// TerminateSession stops a session from any trigger. Idempotent:
// concurrent callers race to flip the status and exactly one wins; the
// rest observe an already-terminal session and get false. When the
// session is not in memory the persisted record is checked so a
// restarted process can still stop it.
func (m *Manager) TerminateSession(ctx context.Context, sessionID, reason string) bool {
	if reason == "" {
		reason = "manual-shutdown"
	}

	m.mu.RLock()
	sess := m.sessions[sessionID]
	m.mu.RUnlock()

	if sess == nil {
		return m.terminatePersisted(ctx, sessionID, reason)
	}

	sess.mu.Lock()
	if sess.terminal() {
		sess.mu.Unlock()
		return false
	}
	sess.status = StatusStopped
	sess.reason = reason
	containerID := sess.containerID
	// Terminal status blocks new attaches, so the socket set is stable
	// from here. It stays populated until after the stopped log and
	// state frames broadcast, so both reach every socket attached at
	// termination time.
	attached := make(map[string]Socket, len(sess.sockets))
	for wsID, sock := range sess.sockets {
		attached[wsID] = sock
	}
	sess.mu.Unlock()

	if err := m.store.UpdateSessionStatus(sessionID, StatusStopped, store.StatusUpdate{
		ContainerID: &containerID,
		Reason:      &reason,
		Ended:       true,
	}); err != nil {
		m.logger.Error("persist stopped session", "session_id", sessionID, "error", err)
	}

	m.emitLog(ctx, sess, nil, "warn", "session-stopped", fmt.Sprintf("Session stopped (%s).", reason), nil)
	m.broadcastState(sess)

	m.driver.Remove(ctx, containerID)

	for wsID, sock := range attached {
		sock.Close(1000, fmt.Sprintf("Session terminated: %s", reason))
		m.mu.Lock()
		delete(m.sockets, wsID)
		m.mu.Unlock()
	}

	sess.mu.Lock()
	sess.sockets = make(map[string]Socket)
	sess.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	m.invalidateStatusCache(ctx)
	return true
}

// terminatePersisted covers the restart case: the record says the
// session was live even though this process never owned it.
func (m *Manager) terminatePersisted(ctx context.Context, sessionID, reason string) bool {
	existing, err := m.store.GetSessionBySessionID(sessionID)
	if err != nil || existing == nil {
		return false
	}
	if existing.Status != StatusStarting && existing.Status != StatusActive {
		return false
	}
	if err := m.store.UpdateSessionStatus(sessionID, StatusStopped, store.StatusUpdate{
		Reason: &reason,
		Ended:  true,
	}); err != nil {
		m.logger.Error("persist stopped session", "session_id", sessionID, "error", err)
		return false
	}
	m.appendLog(&store.LogEntry{
		SessionID: sessionID,
		Level:     "warn",
		Event:     "session-stopped",
		Message:   fmt.Sprintf("Session stopped (%s).", reason),
	})
	m.invalidateStatusCache(ctx)
	return true
}

// TerminateSessionWithToken requires the caller to present the join
// token; the comparison is constant-time. Falls back to the persisted
// record's token when the session isn't owned by this process.
func (m *Manager) TerminateSessionWithToken(ctx context.Context, sessionID, token, reason string) bool {
	if reason == "" {
		reason = "client-shutdown"
	}

	m.mu.RLock()
	sess := m.sessions[sessionID]
	m.mu.RUnlock()

	if sess != nil && tokenEqual(sess.joinToken, token) {
		return m.TerminateSession(ctx, sessionID, reason)
	}

	existing, err := m.store.GetSessionBySessionID(sessionID)
	if err != nil || existing == nil {
		return false
	}
	if !tokenEqual(existing.JoinToken, token) {
		return false
	}
	if existing.Status != StatusStarting && existing.Status != StatusActive {
		return false
	}
	return m.terminatePersisted(ctx, sessionID, reason)
}

// TerminateByPlayset stops every live session of one playset.
func (m *Manager) TerminateByPlayset(ctx context.Context, playsetID int64, reason string) int {
	if reason == "" {
		reason = "admin-playset-shutdown"
	}
	m.mu.RLock()
	var ids []string
	for id, sess := range m.sessions {
		if sess.playset.ID == playsetID {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range ids {
		if m.TerminateSession(ctx, id, reason) {
			count++
		}
	}
	return count
}

// TerminateBySocket stops the whole session a socket belongs to.
func (m *Manager) TerminateBySocket(ctx context.Context, wsID, reason string) bool {
	if reason == "" {
		reason = "admin-websocket-shutdown"
	}
	m.mu.RLock()
	ref := m.sockets[wsID]
	m.mu.RUnlock()
	if ref == nil {
		return false
	}
	return m.TerminateSession(ctx, ref.sessionID, reason)
}

// TerminateAll stops every live session.
func (m *Manager) TerminateAll(ctx context.Context, reason string) int {
	if reason == "" {
		reason = "admin-global-shutdown"
	}
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range ids {
		if m.TerminateSession(ctx, id, reason) {
			count++
		}
	}
	return count
}

// SweepIdle terminates active sessions whose idle time exceeds their
// playset's timeout (floored at the safety minimum). Returns how many
// were reclaimed.
func (m *Manager) SweepIdle(ctx context.Context) int {
	now := time.Now()

	m.mu.RLock()
	var stale []string
	for id, sess := range m.sessions {
		sess.mu.Lock()
		idleFor := now.Sub(sess.lastActivityAt)
		active := sess.status == StatusActive
		timeout := time.Duration(sess.playset.IdleTimeoutSeconds) * time.Second
		sess.mu.Unlock()

		if timeout < minIdleTimeout {
			timeout = minIdleTimeout
		}
		if active && idleFor > timeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range stale {
		m.logger.Info("reaping idle session", "session_id", id)
		if m.TerminateSession(ctx, id, "idle-timeout") {
			count++
		}
	}
	return count
}

// RuntimeSnapshot reports the live sessions and sockets this process
// owns, newest first.
func (m *Manager) RuntimeSnapshot() *Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	refs := make([]*socketRef, 0, len(m.sockets))
	for _, ref := range m.sockets {
		refs = append(refs, ref)
	}
	m.mu.RUnlock()

	snap := &Snapshot{
		RuntimeMode: m.cfg.RuntimeMode,
		Sessions:    make([]SessionSnapshot, 0, len(sessions)),
		Sockets:     make([]SocketSnapshot, 0, len(refs)),
	}
	for _, sess := range sessions {
		sess.mu.Lock()
		snap.Sessions = append(snap.Sessions, SessionSnapshot{
			SessionID:      sess.sessionID,
			Status:         sess.status,
			Reason:         sess.reason,
			PlaysetID:      sess.playset.ID,
			PlaysetName:    sess.playset.Name,
			PlaysetRuntime: sess.playset.Runtime,
			ContainerID:    sess.containerID,
			CreatedAt:      sess.createdAt,
			LastActivityAt: sess.lastActivityAt,
			SocketCount:    len(sess.sockets),
		})
		sess.mu.Unlock()
	}
	for _, ref := range refs {
		snap.Sockets = append(snap.Sockets, SocketSnapshot{
			WsID:          ref.wsID,
			SessionID:     ref.sessionID,
			ConnectedAt:   ref.connectedAt,
			RemoteAddress: ref.remoteAddress,
		})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].CreatedAt.After(snap.Sessions[j].CreatedAt)
	})
	sort.Slice(snap.Sockets, func(i, j int) bool {
		return snap.Sockets[i].ConnectedAt.After(snap.Sockets[j].ConnectedAt)
	})
	snap.SessionCount = len(snap.Sessions)
	snap.SocketCount = len(snap.Sockets)
	return snap
}

func (m *Manager) broadcastState(sess *Session) {
	sess.mu.Lock()
	msg := protocol.State{
		Type:      protocol.ServerState,
		SessionID: sess.sessionID,
		Status:    sess.status,
		Reason:    sess.reason,
	}
	sess.mu.Unlock()
	sess.broadcast(msg)
}

// emitLog persists a log entry (best-effort) and broadcasts it to the
// session's sockets.
func (m *Manager) emitLog(ctx context.Context, sess *Session, wsID *string, level, event, message string, payload any) {
	var payloadJSON *string
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			s := string(raw)
			payloadJSON = &s
		}
	}

	m.appendLog(&store.LogEntry{
		SessionID: sess.sessionID,
		WsID:      wsID,
		Level:     level,
		Event:     event,
		Message:   message,
		Payload:   payloadJSON,
	})

	sess.broadcast(protocol.Log{
		Type: protocol.ServerLog,
		Entry: protocol.LogEntry{
			SessionID: sess.sessionID,
			WsID:      wsID,
			Level:     level,
			Event:     event,
			Message:   message,
			Payload:   payloadJSON,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (m *Manager) appendLog(entry *store.LogEntry) {
	if err := m.store.AppendLog(entry); err != nil {
		m.logger.Error("persist log entry", "session_id", entry.SessionID, "event", entry.Event, "error", err)
	}
}

func (m *Manager) invalidateStatusCache(ctx context.Context) {
	m.cache.InvalidatePrefix(ctx, statusCachePrefix)
}
