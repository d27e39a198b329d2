// Package ws serves the playground websocket endpoint on its own
// listener, upgrades connections, and bridges frames to the session
// runtime.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conneradamsmaine/playgroundd/internal/config"
	"github.com/conneradamsmaine/playgroundd/internal/session"
)

const writeTimeout = 10 * time.Second

// maxFrameSize bounds inbound frames well above the command length cap.
const maxFrameSize = 16 * 1024

// Manager is the session runtime surface the gateway drives.
type Manager interface {
	Attach(ctx context.Context, sessionID, token string, sock session.Socket, remoteAddr string) (string, error)
	Detach(ctx context.Context, sessionID, wsID string, code int, reason string)
	SocketError(ctx context.Context, sessionID, wsID string, errMsg string)
	HandleMessage(ctx context.Context, sessionID, wsID string, raw []byte)
}

type Gateway struct {
	cfg      *config.Config
	manager  Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

func NewGateway(cfg *config.Config, manager Manager, logger *slog.Logger) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		manager: manager,
		logger:  logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if !g.cfg.Playground.EnforceSameOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no origin; the join token is the
		// real credential.
		return true
	}
	return g.cfg.AllowedOrigin != "" && strings.EqualFold(origin, g.cfg.AllowedOrigin)
}

// Start runs the websocket listener until the context is cancelled or
// the server fails.
func (g *Gateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+g.cfg.Playground.Ws.Path, g.handleUpgrade)

	addr := net.JoinHostPort(g.cfg.Playground.Ws.Host, fmt.Sprintf("%d", g.cfg.Playground.Ws.Port))
	g.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("websocket gateway listening", "addr", addr, "path", g.cfg.Playground.Ws.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting new connections and drains in-flight ones.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// ClientURL is the websocket URL handed to browsers. The public URL
// overrides the derived one when the gateway sits behind a proxy.
func (g *Gateway) ClientURL() string {
	ws := g.cfg.Playground.Ws
	if ws.PublicURL != "" {
		return ws.PublicURL
	}
	host := ws.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, fmt.Sprintf("%d", ws.Port)), ws.Path)
}

// handleUpgrade authenticates after the upgrade so the client receives
// a proper close code instead of an opaque HTTP failure.
func (g *Gateway) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	raw.SetReadLimit(maxFrameSize)

	sock := newConn(raw)

	sessionID := r.URL.Query().Get("sessionId")
	token := r.URL.Query().Get("token")
	if sessionID == "" || token == "" {
		sock.Close(websocket.ClosePolicyViolation, "Missing session credentials.")
		return
	}

	wsID, err := g.manager.Attach(r.Context(), sessionID, token, sock, r.RemoteAddr)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCredentials):
			sock.Close(websocket.ClosePolicyViolation, "Invalid session credentials.")
		case errors.Is(err, session.ErrSessionNotLive):
			sock.Close(websocket.CloseInternalServerErr, "Session is not available.")
		default:
			sock.Close(websocket.CloseInternalServerErr, "Session attach failed.")
		}
		return
	}

	g.readLoop(sock, sessionID, wsID)
}

// readLoop pumps inbound frames into the runtime until the connection
// drops, then detaches the socket.
func (g *Gateway) readLoop(sock *conn, sessionID, wsID string) {
	code := websocket.CloseNormalClosure
	reason := ""
	for {
		_, raw, err := sock.raw.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
				reason = closeErr.Text
			} else if !sock.isClosed() {
				code = websocket.CloseAbnormalClosure
				reason = err.Error()
				g.manager.SocketError(context.Background(), sessionID, wsID, err.Error())
			}
			break
		}
		g.manager.HandleMessage(context.Background(), sessionID, wsID, raw)
	}

	sock.Close(code, reason)
	g.manager.Detach(context.Background(), sessionID, wsID, code, reason)
}

// conn adapts one gorilla connection to the runtime's socket contract.
// gorilla permits a single concurrent writer, so every write holds mu.
type conn struct {
	raw *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newConn(raw *websocket.Conn) *conn {
	return &conn{raw: raw}
}

func (c *conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.raw.WriteJSON(v)
}

func (c *conn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.raw.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeTimeout),
	)
	c.raw.Close()
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
