package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gamelink-project/gamelink/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Transport is one bidirectional message socket bound to a connection.
// Implementations must serialize concurrent writes.
type Transport interface {
	WriteMessage(m *protocol.Message) error
	Close() error
	RemoteAddr() string
}

// WSTransport wraps a gorilla websocket connection as a Transport.
// Reads are driven externally by the owner's read pump; this wrapper
// only guards the write path.
type WSTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSTransport wraps an established websocket connection.
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

// WriteMessage encodes and sends one message as a text frame.
func (t *WSTransport) WriteMessage(m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close shuts the underlying socket. Safe to call repeatedly.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// RemoteAddr returns the peer address for logging.
func (t *WSTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// ReadMessage blocks on the next text frame and decodes it. Only the
// owning read pump calls this.
func (t *WSTransport) ReadMessage() (*protocol.Message, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}
