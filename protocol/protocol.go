// Package protocol defines the JSON message types exchanged over a
// playground session's websocket, in both directions.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server message types.
const (
	ClientPing  = "ping"
	ClientRun   = "run"
	ClientClose = "close"
)

// Server → client message types.
const (
	ServerWelcome       = "welcome"
	ServerState         = "state"
	ServerLog           = "log"
	ServerCommandResult = "command_result"
	ServerPong          = "pong"
	ServerError         = "error"
)

// MaxCommandLength is the hard cap on a single run command.
const MaxCommandLength = 800

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnsupported = errors.New("unsupported message type")
)

// ClientMessage is the decoded form of an inbound frame. Exactly the
// fields for the variant named by Type are populated.
type ClientMessage struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"` // run
	Reason  string `json:"reason,omitempty"`  // close
}

// DecodeClientMessage parses and validates an inbound frame. The
// discriminant is checked before the message is handed to dispatch;
// unknown types fail with ErrUnsupported.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch msg.Type {
	case ClientPing, ClientRun, ClientClose:
		return &msg, nil
	case "":
		return nil, ErrMalformed
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, msg.Type)
	}
}

// Welcome is sent once to a socket right after it attaches.
type Welcome struct {
	Type        string `json:"type"` // "welcome"
	SessionID   string `json:"sessionId"`
	WsID        string `json:"wsId"`
	PlaysetID   int64  `json:"playsetId"`
	PlaysetName string `json:"playsetName"`
	Status      string `json:"status"`
	Runtime     string `json:"runtime"`
}

// State is broadcast to every socket of a session on each status change.
type State struct {
	Type      string `json:"type"` // "state"
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// LogEntry mirrors a persisted playground log row.
type LogEntry struct {
	SessionID string  `json:"sessionId"`
	WsID      *string `json:"wsId"`
	Level     string  `json:"level"`
	Event     string  `json:"event"`
	Message   string  `json:"message"`
	Payload   *string `json:"payload"`
	CreatedAt string  `json:"createdAt"`
}

// Log wraps a LogEntry for broadcast.
type Log struct {
	Type  string   `json:"type"` // "log"
	Entry LogEntry `json:"entry"`
}

// CommandResult is broadcast after a run command completes. Non-zero
// exit codes are normal results, not protocol errors.
type CommandResult struct {
	Type      string `json:"type"` // "command_result"
	SessionID string `json:"sessionId"`
	WsID      string `json:"wsId"`
	Command   string `json:"command"`
	ExitCode  int    `json:"exitCode"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	RanAt     string `json:"ranAt"`
}

// Pong answers a client ping.
type Pong struct {
	Type string `json:"type"` // "pong"
	At   string `json:"at"`
}

// ErrorMessage is sent only to the socket that triggered it.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func NewPong(at string) Pong {
	return Pong{Type: ServerPong, At: at}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: ServerError, Message: message}
}
