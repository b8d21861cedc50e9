package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrExtensionNotConnected is returned when a message is sent while no
// extension socket is attached.
var ErrExtensionNotConnected = errors.New("extension not connected")

// extensionChannel holds the single upstream extension socket.
type extensionChannel struct {
	mu     sync.RWMutex
	conn   *websocket.Conn
	connID string

	writeMu sync.Mutex // serializes writes to conn
	logger  *slog.Logger
}

func newExtensionChannel(logger *slog.Logger) *extensionChannel {
	return &extensionChannel{logger: logger}
}

// attach makes conn current and returns the socket it replaced, if any.
func (c *extensionChannel) attach(conn *websocket.Conn, connID string) *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.conn
	c.conn = conn
	c.connID = connID
	return prev
}

// detach clears the channel if conn is still current.
func (c *extensionChannel) detach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return false
	}
	c.conn = nil
	c.connID = ""
	return true
}

func (c *extensionChannel) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *extensionChannel) connected() bool {
	return c.current() != nil
}

// send writes msg as a JSON text frame. Nothing is buffered: with no socket
// attached the message is dropped and ErrExtensionNotConnected returned.
func (c *extensionChannel) send(msg any) error {
	conn := c.current()
	if conn == nil {
		return ErrExtensionNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write to extension: %w", err)
	}
	return nil
}

// ping sends a liveness probe if a socket is attached. Pongs are only logged;
// a missing pong never closes the connection.
func (c *extensionChannel) ping() {
	if !c.connected() {
		return
	}
	if err := c.send(&pingMessage{Method: methodPing}); err != nil {
		c.logger.Debug("Ping to extension failed", "error", err)
	}
}
