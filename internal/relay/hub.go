package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stories-go/internal/stories"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBuffer   = 16
)

// Hub is the proxy side of the relay. It accepts websocket connections from
// clients, broadcasts messages to all of them, and hands messages clients send
// back to an inbound callback.
type Hub struct {
	upgrader  websocket.Upgrader
	onMessage func(Message)
	logger    stories.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan Message
}

// NewHub creates a Hub. onMessage may be nil.
func NewHub(onMessage func(Message), logger stories.Logger) *Hub {
	return &Hub{
		onMessage: onMessage,
		logger:    logger,
		clients:   make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("relay upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan Message, sendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Debug("relay client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)

	h.unregister(c)
	h.logger.Debug("relay client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) readLoop(c *hubClient) {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var m Message
		if err := c.conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("relay read failed", "error", err)
			}
			return
		}
		if h.onMessage != nil {
			h.onMessage(m)
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case m, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
				h.logger.Debug("relay write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Broadcast queues m for every connected client and returns how many accepted it.
// A client whose buffer is full misses the message.
func (h *Hub) Broadcast(m Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- m:
			delivered++
		default:
			h.logger.Warn("relay client too slow, message dropped", "type", string(m.Type), "id", m.ID.String())
		}
	}
	return delivered
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
