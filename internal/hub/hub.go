// Package hub fans crawl events out to WebSocket clients. Clients subscribe
// to session IDs; each event reaches only the connections watching its
// session.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sitelens/sitelens/internal/events"
	"github.com/sitelens/sitelens/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from arbitrary origins during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks live WebSocket connections and their session subscriptions.
// It implements events.Sink so the orchestrator can publish straight into it.
type Hub struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
	log         *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[*Connection]struct{}),
		log:         log.WithComponent("hub"),
	}
}

// Publish implements events.Sink: the event goes to every connection
// subscribed to its session.
func (h *Hub) Publish(ev events.Event) {
	h.broadcast(ev, ev.SessionID)
}

// broadcast sends msg to connections subscribed to session; an empty session
// reaches everyone. A failed write tears the connection down.
func (h *Hub) broadcast(msg any, session string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections {
		if session != "" && !conn.Subscribed(session) {
			continue
		}
		if err := conn.write(data); err != nil {
			h.log.WithError(err).Debug("dropping websocket connection on write error")
			go h.remove(conn)
		}
	}
}

func (h *Hub) add(conn *Connection) {
	h.mu.Lock()
	h.connections[conn] = struct{}{}
	count := len(h.connections)
	h.mu.Unlock()
	h.log.Infof("websocket connected (%d active)", count)
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	_, present := h.connections[conn]
	delete(h.connections, conn)
	count := len(h.connections)
	h.mu.Unlock()

	if present {
		conn.close()
		h.log.Infof("websocket disconnected (%d active)", count)
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close tears down every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections {
		conn.close()
	}
	h.connections = make(map[*Connection]struct{})
}

// HandleWebSocket upgrades an HTTP request and registers the connection. An
// optional ?session= query parameter subscribes immediately; further
// subscriptions arrive as messages.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := newConnection(ws)
	if session := r.URL.Query().Get("session"); session != "" {
		conn.Subscribe(session)
	}

	h.add(conn)
	go h.readLoop(conn)
}

// subscriptionMessage is the client-to-server protocol: subscribe or
// unsubscribe from a session's event stream.
type subscriptionMessage struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// readLoop consumes subscription messages until the peer goes away.
func (h *Hub) readLoop(conn *Connection) {
	defer h.remove(conn)

	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("websocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var sub subscriptionMessage
		if err := json.Unmarshal(data, &sub); err != nil {
			h.log.WithError(err).Debug("ignoring malformed subscription message")
			continue
		}
		switch sub.Action {
		case "subscribe":
			conn.Subscribe(sub.SessionID)
		case "unsubscribe":
			conn.Unsubscribe(sub.SessionID)
		}
	}
}

// Connection is one WebSocket peer and its session subscriptions.
type Connection struct {
	ws *websocket.Conn

	mu       sync.Mutex
	sessions map[string]struct{}
	closed   bool
}

func newConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ws:       ws,
		sessions: make(map[string]struct{}),
	}
}

// Subscribe adds a session to this connection's watch set.
func (c *Connection) Subscribe(session string) {
	if session == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[session] = struct{}{}
}

// Unsubscribe removes a session from the watch set.
func (c *Connection) Unsubscribe(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, session)
}

// Subscribed reports whether this connection watches session.
func (c *Connection) Subscribed(session string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[session]
	return ok
}

// write serializes writes; gorilla/websocket allows one concurrent writer.
func (c *Connection) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.ws.Close()
	}
}
