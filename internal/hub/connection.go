// Package hub owns live WebSocket connections: the session registry mapping
// users to their single authoritative connection, and room membership.
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrBufferFull is returned when a connection's send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned when enqueueing to an evicted connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection represents a single authenticated WebSocket connection.
// Send is never closed; Done is closed once the connection is evicted.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	closed      chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string

	mu sync.Mutex
}

// NewConnection wraps ws for userID. ws may be nil in tests.
func NewConnection(userID string, ws *websocket.Conn, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   ws,
		Send:   make(chan []byte, bufferSize),
		closed: make(chan struct{}),
	}
}

// Enqueue queues data for the write pump without blocking.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.Send <- data:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	default:
		return ErrBufferFull
	}
}

// Evict marks the connection closed with a WebSocket close code. Only the
// first call has an effect.
func (c *Connection) Evict(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closed)
	})
}

// Done is closed when the connection has been evicted.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Evicted reports whether Evict has been called.
func (c *Connection) Evicted() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// CloseStatus returns the code and reason passed to Evict.
func (c *Connection) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteClose sends a close frame carrying code and reason.
func (c *Connection) WriteClose(code int, reason string, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
