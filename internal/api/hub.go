package api

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/mediasync/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

var clientIDCounter atomic.Uint64

// Hub fans bus changes out to connected websocket clients.
type Hub struct {
	clients   map[*client]bool
	broadcast chan notify.Change
	mu        sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*client]bool),
		broadcast: make(chan notify.Change, sendBuffer),
	}
}

// Run delivers published changes until ctx is done, then closes every
// client. Run may be called again after it returns.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("websocket client connected", "client", c.id, "total_clients", n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("websocket client disconnected", "client", c.id, "total_clients", n)
}

// Publish queues a change for every client. It never blocks; a full queue
// drops the change.
func (h *Hub) Publish(c notify.Change) {
	select {
	case h.broadcast <- c:
	default:
		slog.Warn("websocket broadcast queue full, dropping change", "kind", string(c.Kind))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver sends msg to clients in connection order. Clients whose buffer is
// full are disconnected.
func (h *Hub) deliver(msg notify.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*client
	for _, c := range h.sorted() {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.sorted() {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) sorted() []*client {
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

type client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan notify.Change
}

func newClient(hub *Hub, conn *websocket.Conn) *client {
	return &client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan notify.Change, sendBuffer),
	}
}

func (c *client) start() {
	c.hub.add(c)
	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames; it exists to process control messages
// and to notice when the peer goes away.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("unexpected websocket close", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("websocket write failed", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
