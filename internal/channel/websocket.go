package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeDeadline    = 10 * time.Second
)

// WebSocketDialer dials real sockets with gorilla/websocket.
type WebSocketDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
}

// Dial opens a WebSocket to url.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Socket, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = handshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("ws dial failed: %w", err)
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *wsSocket) WriteMessage(data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame before dropping the connection.
// WriteControl is safe to call concurrently with WriteMessage.
func (s *wsSocket) Close() error {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

// JoinEndpoint appends escaped path segments to base and terminates the
// path with a slash, e.g. JoinEndpoint("ws://h/ws", "search", "7", "42")
// gives "ws://h/ws/search/7/42/".
func JoinEndpoint(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	b.WriteByte('/')
	return b.String()
}
