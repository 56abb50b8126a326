// Package websocket is the thin WebSocket transport adapter: it upgrades
// HTTP connections, tracks one gorilla/websocket connection per subscriber,
// and implements internal/broadcaster's WebSocketSink so the broadcaster
// never has to know how a message actually reaches a client.
//
// Grounded on internal/websocket/services/connection.go's ConnectionManager
// and HandleConnection lifecycle (ping/pong, read/write deadlines),
// narrowed to the one subscriberID-keyed registry this spec needs instead
// of the teacher's user/character/room indexing.
package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	outboundBuffer = 256
)

// connection wraps one subscriber's socket with its own write lock —
// gorilla/websocket connections aren't safe for concurrent writers.
type connection struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connection) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *connection) writePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *connection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// Hub tracks one live connection per subscriber and satisfies
// broadcaster.WebSocketSink.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	logger *slog.Logger
}

// NewHub builds an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{conns: make(map[string]*connection), logger: logger}
}

// Send writes payload as JSON to subscriberID's live connection, if any.
// Returns false if the subscriber has no open connection or the write
// failed. payload is opaque to the hub — envelope shape is the caller's
// concern (see broadcaster.newDetailedKillUpdate).
func (h *Hub) Send(subscriberID string, payload any) bool {
	h.mu.RLock()
	c, ok := h.conns[subscriberID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := c.writeJSON(payload); err != nil {
		h.logger.Warn("failed to write to subscriber connection", "subscriber_id", subscriberID, "error", err)
		return false
	}
	return true
}

// register adds or replaces subscriberID's connection, closing any prior one.
func (h *Hub) register(subscriberID string, conn *websocket.Conn) *connection {
	c := &connection{conn: conn}

	h.mu.Lock()
	if old, ok := h.conns[subscriberID]; ok {
		old.close()
	}
	h.conns[subscriberID] = c
	h.mu.Unlock()

	h.logger.Info("websocket connection registered", "subscriber_id", subscriberID)
	return c
}

func (h *Hub) unregister(subscriberID string, c *connection) {
	h.mu.Lock()
	if cur, ok := h.conns[subscriberID]; ok && cur == c {
		delete(h.conns, subscriberID)
	}
	h.mu.Unlock()
	h.logger.Info("websocket connection unregistered", "subscriber_id", subscriberID)
}

// HandleConnection runs one subscriber connection's lifecycle until ctx is
// canceled or the connection errors out: ping/pong keepalive, read-deadline
// refresh, and a read loop that discards anything the client sends (this
// transport is server-push only).
func (h *Hub) HandleConnection(ctx context.Context, subscriberID string, conn *websocket.Conn) {
	c := h.register(subscriberID, conn)
	defer func() {
		h.unregister(subscriberID, c)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				h.logger.Warn("failed to ping subscriber connection", "subscriber_id", subscriberID, "error", err)
				return
			}
		case err := <-errCh:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket connection error", "subscriber_id", subscriberID, "error", err)
			}
			return
		}
	}
}

// Count returns the number of live connections, for status reporting.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
