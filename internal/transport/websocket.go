package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nhle/teamboard/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	handshakeLimit = 15 * time.Second
)

// SocketURLFromBase derives the socket endpoint from the REST base URL:
// http becomes ws, https becomes wss, and /ws is appended to the path.
func SocketURLFromBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url %q: %w", base, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = path.Join("/", u.Path, "ws")
	return u.String(), nil
}

// WebSocketDialer dials the server's WebSocket endpoint. The token is
// sent both as a bearer header and as a "token" query parameter since
// not every proxy forwards the header on upgrade.
type WebSocketDialer struct {
	URL string

	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial performs the upgrade. A 401 or 403 answer is reported as
// ErrUnauthenticated.
func (d *WebSocketDialer) Dial(ctx context.Context, token string) (Socket, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing socket url %q: %w", d.URL, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := d.Dialer
	if dialer == nil {
		dd := *websocket.DefaultDialer
		dd.HandshakeTimeout = handshakeLimit
		dialer = &dd
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: socket handshake rejected with %s", ErrUnauthenticated, resp.Status)
		}
		if resp != nil {
			return nil, fmt.Errorf("socket handshake failed: %s", resp.Status)
		}
		return nil, fmt.Errorf("dialing socket: %w", err)
	}

	return newWSSocket(conn), nil
}

// wsSocket adapts a gorilla connection to Socket. gorilla allows one
// concurrent reader and one concurrent writer, so writes are serialized.
type wsSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	s := &wsSocket{conn: conn, done: make(chan struct{})}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.keepalive()
	return s
}

func (s *wsSocket) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Receive reads the next frame. Undecodable frames come back as
// *FrameError so the caller can keep reading.
func (s *wsSocket) Receive() (model.Frame, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return model.Frame{}, err
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

	var f model.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return model.Frame{}, &FrameError{Err: err}
	}
	return f, nil
}

func (s *wsSocket) Send(f model.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure and closes the connection. Safe to call
// more than once.
func (s *wsSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(writeWait),
		)
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
