package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneradamsmaine/playgroundd/internal/config"
	"github.com/conneradamsmaine/playgroundd/internal/session"
)

type recordingManager struct {
	mu        sync.Mutex
	attachErr error
	wsID      string
	messages  [][]byte
	detached  bool
	code      int
	sockErr   string
	frameCh   chan []byte
}

func newRecordingManager() *recordingManager {
	return &recordingManager{wsID: "ws-test-1", frameCh: make(chan []byte, 8)}
}

func (m *recordingManager) Attach(ctx context.Context, sessionID, token string, sock session.Socket, remoteAddr string) (string, error) {
	if m.attachErr != nil {
		return "", m.attachErr
	}
	return m.wsID, nil
}

func (m *recordingManager) Detach(ctx context.Context, sessionID, wsID string, code int, reason string) {
	m.mu.Lock()
	m.detached = true
	m.code = code
	m.mu.Unlock()
}

func (m *recordingManager) SocketError(ctx context.Context, sessionID, wsID string, errMsg string) {
	m.mu.Lock()
	m.sockErr = errMsg
	m.mu.Unlock()
}

func (m *recordingManager) HandleMessage(ctx context.Context, sessionID, wsID string, raw []byte) {
	m.mu.Lock()
	m.messages = append(m.messages, raw)
	m.mu.Unlock()
	m.frameCh <- raw
}

func testGateway(mgr Manager) *Gateway {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(cfg, mgr, logger)
}

// dial connects to a test server running the gateway's upgrade handler.
func dial(t *testing.T, g *Gateway, query string) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.handleUpgrade))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, srv
}

func readCloseCode(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	return closeErr.Code, closeErr.Text
}

func TestMissingCredentialsClosesPolicyViolation(t *testing.T) {
	g := testGateway(newRecordingManager())
	conn, _ := dial(t, g, "sessionId=abc")

	code, text := readCloseCode(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, "Missing session credentials.", text)
}

func TestInvalidCredentialsClosesPolicyViolation(t *testing.T) {
	mgr := newRecordingManager()
	mgr.attachErr = session.ErrInvalidCredentials
	g := testGateway(mgr)
	conn, _ := dial(t, g, "sessionId=abc&token=bad")

	code, text := readCloseCode(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, code)
	assert.Equal(t, "Invalid session credentials.", text)
}

func TestDeadSessionClosesInternalError(t *testing.T) {
	mgr := newRecordingManager()
	mgr.attachErr = session.ErrSessionNotLive
	g := testGateway(mgr)
	conn, _ := dial(t, g, "sessionId=abc&token=tok")

	code, _ := readCloseCode(t, conn)
	assert.Equal(t, websocket.CloseInternalServerErr, code)
}

func TestFramesReachManagerAndDetachOnClose(t *testing.T) {
	mgr := newRecordingManager()
	g := testGateway(mgr)
	conn, _ := dial(t, g, "sessionId=abc&token=tok")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	select {
	case raw := <-mgr.frameCh:
		assert.JSONEq(t, `{"type":"ping"}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the manager")
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))

	require.Eventually(t, func() bool {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		return mgr.detached
	}, 2*time.Second, 10*time.Millisecond)

	mgr.mu.Lock()
	assert.Equal(t, websocket.CloseNormalClosure, mgr.code)
	mgr.mu.Unlock()
}

func TestAbruptDisconnectReportsSocketError(t *testing.T) {
	mgr := newRecordingManager()
	g := testGateway(mgr)
	conn, _ := dial(t, g, "sessionId=abc&token=tok")

	// Dropping the TCP connection without a close frame is a transport
	// failure, not a client-initiated close.
	require.NoError(t, conn.UnderlyingConn().Close())

	require.Eventually(t, func() bool {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		return mgr.detached
	}, 2*time.Second, 10*time.Millisecond)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	assert.Equal(t, websocket.CloseAbnormalClosure, mgr.code)
	assert.NotEmpty(t, mgr.sockErr)
}

func TestConnSendAfterCloseErrors(t *testing.T) {
	mgr := newRecordingManager()
	g := testGateway(mgr)
	conn, _ := dial(t, g, "sessionId=abc&token=tok")
	_ = conn

	c := newConn(&websocket.Conn{})
	c.closed = true
	assert.Error(t, c.Send("anything"))
	// Close tolerates repeats.
	c.Close(websocket.CloseNormalClosure, "")
	c.Close(websocket.CloseNormalClosure, "")
}

func TestClientURL(t *testing.T) {
	cfg := config.Default()
	cfg.Playground.Ws.Host = "0.0.0.0"
	cfg.Playground.Ws.Port = 24680
	cfg.Playground.Ws.Path = "/playground/ws"
	g := NewGateway(cfg, newRecordingManager(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, "ws://127.0.0.1:24680/playground/ws", g.ClientURL())

	cfg.Playground.Ws.PublicURL = "wss://play.example.com/ws"
	assert.Equal(t, "wss://play.example.com/ws", g.ClientURL())
}

func TestCheckOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.AllowedOrigin = "https://example.com"
	cfg.Playground.EnforceSameOrigin = true
	g := NewGateway(cfg, newRecordingManager(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, g.checkOrigin(req), "no origin header passes")

	req.Header.Set("Origin", "https://example.com")
	assert.True(t, g.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, g.checkOrigin(req))

	cfg.Playground.EnforceSameOrigin = false
	assert.True(t, g.checkOrigin(req))
}
