package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/quizduel/internal/domain"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxReadSize  = 512
)

// Notification is the envelope of every message sent to watchers.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans views out to websocket watchers. Each watcher only gets views newer than the last
// one it was sent, and a slow watcher only gets the latest.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	version uint64
}

// offer queues the view unless the client already got a newer one. A queued view not yet
// written is replaced.
func (c *client) offer(version uint64, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version <= c.version {
		return
	}
	c.version = version

	select {
	case <-c.send:
	default:
	}
	c.send <- b
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Serve upgrades the request and streams views to it until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, initial domain.View) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 1),
		done: make(chan struct{}),
	}

	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		return conn.Close()
	}
	defer h.unregister(c)

	if b, err := encode(initial); err == nil {
		c.offer(initial.Version, b)
	}

	go h.writePump(r.Context(), c)
	h.readPump(r.Context(), c)
	return nil
}

// Broadcast sends the view to every watcher.
func (h *Hub) Broadcast(ctx context.Context, v domain.View) {
	b, err := encode(v)
	if err != nil {
		slog.ErrorContext(ctx, "hub: marshal view failed", "version", v.Version, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.offer(v.Version, b)
	}
}

// Close disconnects every watcher. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	h.clients[c] = struct{}{}
	slog.Debug("hub: watcher connected", "watchers", len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
}

// readPump discards what the peer sends and returns once the connection is gone.
func (h *Hub) readPump(ctx context.Context, c *client) {
	defer c.close()

	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "hub: watcher read failed", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				slog.WarnContext(ctx, "hub: write view failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func encode(v domain.View) ([]byte, error) {
	return json.Marshal(Notification{Event: domain.EventNameViewUpdated, Data: v})
}
