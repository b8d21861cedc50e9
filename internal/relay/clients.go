package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/events"
	"github.com/single-spa-inspector-pro/sspa-mcp/internal/logging"
)

// cdpClient is one accepted /cdp/<clientId> socket. All writes to conn go
// through the client's own outbox loop, so a peer that stops reading only
// ever delays itself.
type cdpClient struct {
	id     string
	connID string
	conn   *websocket.Conn
	outbox *events.Subject
	sub    events.Subscription

	dropped atomic.Bool
}

// shutdown stops delivery to the client. Queued frames are discarded.
func (c *cdpClient) shutdown() {
	c.sub.Unsubscribe()
	events.Complete(c.outbox)
}

// clientRegistry maps client IDs to their sockets. A later registration for
// the same ID replaces the earlier one.
type clientRegistry struct {
	mu        sync.RWMutex
	clients   map[string]*cdpClient
	queueSize int
	logger    *slog.Logger
}

func newClientRegistry(queueSize int, logger *slog.Logger) *clientRegistry {
	return &clientRegistry{
		clients:   make(map[string]*cdpClient),
		queueSize: queueSize,
		logger:    logger,
	}
}

// register makes conn the socket for clientID.
func (r *clientRegistry) register(clientID, connID string, conn *websocket.Conn) {
	client := &cdpClient{
		id:     clientID,
		connID: connID,
		conn:   conn,
		outbox: events.NewSubject(
			events.WithSyncDelivery(),
			events.WithBufferSize(r.queueSize),
			events.WithLogger(r.logger),
		),
	}
	client.sub = events.Subscribe(client.outbox, events.ClientTopic(clientID),
		func(_ context.Context, msg any) error {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			return conn.WriteJSON(msg)
		})

	r.mu.Lock()
	prev, replaced := r.clients[clientID]
	r.clients[clientID] = client
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("CDP client id reused, replacing previous connection",
			"client", clientID, logging.ShortID("previous", prev.connID), logging.ShortID("conn", connID))
		prev.shutdown()
	}
}

// unregister removes clientID only if connID still owns it. It reports
// whether anything was removed.
func (r *clientRegistry) unregister(clientID, connID string) bool {
	r.mu.Lock()
	client, ok := r.clients[clientID]
	if ok && client.connID == connID {
		delete(r.clients, clientID)
	}
	r.mu.Unlock()

	if !ok || client.connID != connID {
		return false
	}
	client.shutdown()
	return true
}

// send queues msg for clientID without blocking. Unknown clients are a
// no-op. A client whose queue is full is disconnected; its read loop then
// unregisters it.
func (r *clientRegistry) send(clientID string, msg any) {
	r.mu.RLock()
	client, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	err := events.TryEmit(client.outbox, events.ClientTopic(clientID), msg)
	switch {
	case err == nil:
	case errors.Is(err, events.ErrBufferFull):
		if !client.dropped.CompareAndSwap(false, true) {
			return
		}
		r.logger.Warn("CDP client is not reading, disconnecting",
			"client", clientID, logging.ShortID("conn", client.connID), "queue", r.queueSize)
		client.conn.Close()
	default:
		r.logger.Debug("Dropping message for CDP client", "client", clientID, "error", err)
	}
}

// broadcast queues msg for every registered client.
func (r *clientRegistry) broadcast(msg any) {
	for _, id := range r.ids() {
		r.send(id, msg)
	}
}

func (r *clientRegistry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *clientRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// closeAll drops every registration and stops every outbox loop. The
// sockets themselves are closed by their owner.
func (r *clientRegistry) closeAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*cdpClient)
	r.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}

// closeConn writes a close frame and closes the socket. Errors are ignored;
// the peer may already be gone.
func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = conn.Close()
}
