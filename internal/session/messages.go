package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/conneradamsmaine/playgroundd/internal/driver"
	"github.com/conneradamsmaine/playgroundd/protocol"
)

// HandleMessage dispatches one inbound socket frame. Validation errors
// go back to the originating socket only; results broadcast to every
// socket of the session.
func (m *Manager) HandleMessage(ctx context.Context, sessionID, wsID string, raw []byte) {
	m.mu.RLock()
	sess := m.sessions[sessionID]
	m.mu.RUnlock()
	if sess == nil {
		return
	}

	msg, err := protocol.DecodeClientMessage(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupported) {
			sess.socketSend(wsID, protocol.NewError("Unsupported message type."))
		} else {
			sess.socketSend(wsID, protocol.NewError("Invalid websocket payload."))
		}
		return
	}

	sess.Touch()

	switch msg.Type {
	case protocol.ClientPing:
		sess.socketSend(wsID, protocol.NewPong(time.Now().UTC().Format(time.RFC3339)))
	case protocol.ClientClose:
		reason := msg.Reason
		if reason == "" {
			reason = "client-close-request"
		}
		m.TerminateSession(ctx, sessionID, reason)
	case protocol.ClientRun:
		m.runCommand(ctx, sess, wsID, msg.Command)
	}
}

// runCommand enforces the per-session command guards, then executes.
// The session lock is released during container execution so state
// transitions (including termination) stay responsive.
func (m *Manager) runCommand(ctx context.Context, sess *Session, wsID, command string) {
	command = strings.TrimSpace(command)

	sess.mu.Lock()
	if sess.status != StatusActive {
		sess.mu.Unlock()
		sess.socketSend(wsID, protocol.NewError("Session is not ready yet."))
		return
	}
	if command == "" {
		sess.mu.Unlock()
		sess.socketSend(wsID, protocol.NewError("Command cannot be empty."))
		return
	}
	if len(command) > protocol.MaxCommandLength {
		sess.mu.Unlock()
		sess.socketSend(wsID, protocol.NewError("Command is too long."))
		return
	}
	if sess.commandCount >= m.cfg.MaxCommandsPerSession {
		sess.mu.Unlock()
		sess.socketSend(wsID, protocol.NewError(fmt.Sprintf(
			"Session command limit reached (%d). Start a new session.", m.cfg.MaxCommandsPerSession)))
		return
	}

	now := time.Now()
	window := time.Duration(m.cfg.CommandRateWindowMs) * time.Millisecond
	if now.Sub(sess.windowStartedAt) > window {
		sess.windowStartedAt = now
		sess.windowCount = 0
	}
	if sess.windowCount >= m.cfg.MaxCommandsPerWindow {
		retryIn := sess.windowStartedAt.Add(window).Sub(now)
		seconds := int(math.Ceil(retryIn.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		sess.mu.Unlock()
		sess.socketSend(wsID, protocol.NewError(fmt.Sprintf(
			"Command rate limit reached. Retry in %ds.", seconds)))
		return
	}

	sess.commandCount++
	sess.windowCount++
	containerID := sess.containerID
	sess.mu.Unlock()

	m.emitLog(ctx, sess, &wsID, "info", "command-start", fmt.Sprintf("Running command: %s", command), map[string]any{
		"command": command,
	})

	result, err := m.driver.Exec(ctx, containerID, command)
	if err != nil {
		// Infra failures surface as a failed command, not a dropped frame.
		result = &driver.ExecResult{ExitCode: 1, Stderr: err.Error()}
	}

	sess.broadcast(protocol.CommandResult{
		Type:      protocol.ServerCommandResult,
		SessionID: sess.sessionID,
		WsID:      wsID,
		Command:   command,
		ExitCode:  result.ExitCode,
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		RanAt:     time.Now().UTC().Format(time.RFC3339),
	})

	level := "info"
	if result.ExitCode != 0 {
		level = "error"
	}
	m.emitLog(ctx, sess, &wsID, level, "command-finish",
		fmt.Sprintf("Command finished with exit code %d.", result.ExitCode), map[string]any{
			"command":  command,
			"exitCode": result.ExitCode,
		})
}
