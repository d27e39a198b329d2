package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/conneradamsmaine/playgroundd/protocol"
)

// Attach binds a socket to a session after checking the join token.
// The welcome frame is delivered before the socket is registered for
// broadcasts, so welcome is always the first message a client sees.
func (m *Manager) Attach(ctx context.Context, sessionID, token string, sock Socket, remoteAddr string) (string, error) {
	m.mu.RLock()
	sess := m.sessions[sessionID]
	m.mu.RUnlock()

	// Unknown session and bad token look identical to the caller.
	if sess == nil || !tokenEqual(sess.joinToken, token) {
		return "", ErrInvalidCredentials
	}

	sess.mu.Lock()
	if sess.terminal() {
		sess.mu.Unlock()
		return "", ErrSessionNotLive
	}

	wsID := uuid.New().String()
	welcome := protocol.Welcome{
		Type:        protocol.ServerWelcome,
		SessionID:   sess.sessionID,
		WsID:        wsID,
		PlaysetID:   sess.playset.ID,
		PlaysetName: sess.playset.Name,
		Status:      sess.status,
		Runtime:     sess.playset.Runtime,
	}
	sock.Send(welcome)
	sess.sockets[wsID] = sock
	sess.touchLocked()
	sess.mu.Unlock()

	m.mu.Lock()
	m.sockets[wsID] = &socketRef{
		wsID:          wsID,
		sessionID:     sessionID,
		connectedAt:   time.Now(),
		remoteAddress: remoteAddr,
	}
	m.mu.Unlock()

	if err := m.store.CreateSocketConnection(wsID, sessionID); err != nil {
		m.logger.Error("persist socket connection", "ws_id", wsID, "session_id", sessionID, "error", err)
	}

	m.emitLog(ctx, sess, &wsID, "info", "ws-connected", "Client connected to session.", map[string]any{
		"remoteAddress": remoteAddr,
	})
	m.broadcastState(sess)
	m.invalidateStatusCache(ctx)
	return wsID, nil
}

// SocketError records a transport failure on an attached socket. The
// socket is detached separately once its read loop unwinds.
func (m *Manager) SocketError(ctx context.Context, sessionID, wsID string, errMsg string) {
	m.mu.RLock()
	sess := m.sessions[sessionID]
	m.mu.RUnlock()
	if sess == nil {
		return
	}

	m.emitLog(ctx, sess, &wsID, "error", "ws-error", "Websocket error.", map[string]any{
		"message": errMsg,
	})
}

// Detach removes one socket. The session keeps running; only explicit
// termination or the idle sweeper stops it.
func (m *Manager) Detach(ctx context.Context, sessionID, wsID string, code int, reason string) {
	m.mu.Lock()
	delete(m.sockets, wsID)
	sess := m.sessions[sessionID]
	m.mu.Unlock()

	if err := m.store.CloseSocketConnection(wsID, code, reason); err != nil {
		m.logger.Error("close socket connection", "ws_id", wsID, "error", err)
	}

	if sess == nil {
		return
	}

	sess.mu.Lock()
	_, attached := sess.sockets[wsID]
	delete(sess.sockets, wsID)
	sess.touchLocked()
	sess.mu.Unlock()

	if !attached {
		return
	}

	m.emitLog(ctx, sess, &wsID, "warn", "ws-disconnected", "Client disconnected from session.", map[string]any{
		"code":   code,
		"reason": reason,
	})
	m.invalidateStatusCache(ctx)
}
