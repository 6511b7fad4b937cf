package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/logger"
)

// WSClient proxies tmux operations to a remote CAM agent server over a
// single persistent WebSocket connection, reconnecting lazily on failure.
type WSClient struct {
	host      string
	port      int
	authToken string
	uri       string

	mu   sync.Mutex
	conn *websocket.Conn

	log *logger.Logger
}

var _ Transport = (*WSClient)(nil)

// NewWSClient builds a WebSocket transport targeting host:port. port
// defaults to 9876 when 0.
func NewWSClient(host string, port int, authToken string) (*WSClient, error) {
	if host == "" {
		return nil, fmt.Errorf("websocket transport requires a host")
	}
	if port == 0 {
		port = 9876
	}
	return &WSClient{
		host:      host,
		port:      port,
		authToken: authToken,
		uri:       fmt.Sprintf("ws://%s:%d", host, port),
		log:       logger.Default().With(zap.String("transport", "websocket"), zap.String("host", host)),
	}, nil
}

func (w *WSClient) connect(ctx context.Context) (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err == nil {
			return w.conn, nil
		}
		_ = w.conn.Close()
		w.conn = nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent server at %s: %w", w.uri, err)
	}
	w.conn = conn
	w.log.Info("connected to agent server", zap.String("uri", w.uri))
	return conn, nil
}

// send writes a JSON request and waits for the JSON response, under a
// 30-second deadline.
func (w *WSClient) send(ctx context.Context, message map[string]any) (map[string]any, error) {
	if w.authToken != "" {
		message["token"] = w.authToken
	}

	conn, err := w.connect(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(message); err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return nil, err
	}
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return resp, nil
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// CreateSession asks the remote agent server to create a tmux session.
func (w *WSClient) CreateSession(ctx context.Context, sessionID string, command []string, workdir string) error {
	resp, err := w.send(ctx, map[string]any{
		"action":     "create_session",
		"session_id": sessionID,
		"command":    command,
		"workdir":    workdir,
	})
	if err != nil {
		return err
	}
	if !boolField(resp, "ok") {
		return fmt.Errorf("remote session create failed: %s", stringField(resp, "error"))
	}
	return nil
}

// SendInput sends text to a remote tmux session.
func (w *WSClient) SendInput(ctx context.Context, sessionID, text string, sendEnter bool) error {
	resp, err := w.send(ctx, map[string]any{
		"action":     "send_input",
		"session_id": sessionID,
		"text":       text,
		"send_enter": sendEnter,
	})
	if err != nil {
		return err
	}
	if !boolField(resp, "ok") {
		return fmt.Errorf("remote send_input failed for %s", sessionID)
	}
	return nil
}

// SendKey sends a tmux key to a remote session.
func (w *WSClient) SendKey(ctx context.Context, sessionID, key string) error {
	resp, err := w.send(ctx, map[string]any{
		"action":     "send_key",
		"session_id": sessionID,
		"key":        key,
	})
	if err != nil {
		return err
	}
	if !boolField(resp, "ok") {
		return fmt.Errorf("remote send_key failed for %s", sessionID)
	}
	return nil
}

// CaptureOutput captures pane content from a remote session.
func (w *WSClient) CaptureOutput(ctx context.Context, sessionID string, lines int) (string, error) {
	resp, err := w.send(ctx, map[string]any{
		"action":     "capture_output",
		"session_id": sessionID,
		"lines":      lines,
	})
	if err != nil {
		return "", err
	}
	return StripANSI(stringField(resp, "output")), nil
}

// ReadOutputLog is unsupported over the WebSocket protocol; the remote
// agent server only exposes the bounded CaptureOutput tail.
func (w *WSClient) ReadOutputLog(_ context.Context, _ string, offset, _ int64) (string, int64, error) {
	return "", offset, nil
}

// SessionExists checks whether a remote session exists.
func (w *WSClient) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	resp, err := w.send(ctx, map[string]any{
		"action":     "session_exists",
		"session_id": sessionID,
	})
	if err != nil {
		return false, err
	}
	return boolField(resp, "exists"), nil
}

// KillSession kills a remote session.
func (w *WSClient) KillSession(ctx context.Context, sessionID string) error {
	resp, err := w.send(ctx, map[string]any{
		"action":     "kill_session",
		"session_id": sessionID,
	})
	if err != nil {
		return err
	}
	if !boolField(resp, "ok") {
		return fmt.Errorf("remote kill_session failed for %s", sessionID)
	}
	return nil
}

// TestConnection pings the remote agent server.
func (w *WSClient) TestConnection(ctx context.Context) (bool, string) {
	resp, err := w.send(ctx, map[string]any{"action": "ping"})
	if err != nil {
		return false, fmt.Sprintf("cannot connect to agent server at %s: %v", w.uri, err)
	}
	if boolField(resp, "pong") {
		return true, fmt.Sprintf("agent server connected at %s", w.uri)
	}
	return false, fmt.Sprintf("unexpected response from %s", w.uri)
}

// GetLatency measures a ping round trip.
func (w *WSClient) GetLatency(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := w.send(ctx, map[string]any{"action": "ping"}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// GetAttachCommand explains that WebSocket sessions aren't directly
// attachable; the caller needs SSH to the remote host instead.
func (w *WSClient) GetAttachCommand(string) string {
	return fmt.Sprintf("echo 'websocket sessions cannot be attached directly, use ssh to connect to %s'", w.host)
}

// Close terminates the underlying WebSocket connection, if open.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}
