// Package adminfeed is a websocket hub that broadcasts each computed
// Decision and FAA audit/deny record to connected local observers, for
// live operational visibility (a read-only successor to strongdm-leash's
// browser Control UI hub, grounded on internal/websocket/hub.go). It is
// not a user-facing CLI/GUI alert surface.
package adminfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
)

const (
	writeDeadline = 5 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendBuffer    = 256
)

var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one item broadcast to admin feed observers.
type Event struct {
	Time string `json:"time"`
	Kind string `json:"kind"` // "decision", "faa" or "log"
	Data any    `json:"data"`
}

// Hub manages websocket observer connections and broadcasts (grounded on
// strongdm-leash's WebSocketHub, trimmed to this daemon's single event
// shape and without the HTTP-proxy-specific log schema it carries).
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

type client struct {
	id   string
	conn *gws.Conn
	send chan []byte
}

// NewHub constructs an idle Hub; call Run to start its event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run services registration and broadcast until ctx-like shutdown; callers
// run it in its own goroutine for the daemon's lifetime.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					log.Printf("adminfeed: dropping event for client %s (send buffer full)", c.id)
				}
			}
			h.mu.RUnlock()

		case <-stop:
			return
		}
	}
}

// BroadcastLog implements daemonlog.Broadcaster, publishing each daemon
// log line to connected observers as a "log" Event.
func (h *Hub) BroadcastLog(line string) {
	h.Publish(Event{Kind: "log", Data: line})
}

// Publish broadcasts an Event as JSON to every connected observer. It
// never blocks on a slow or absent client.
func (h *Hub) Publish(ev Event) {
	if ev.Time == "" {
		ev.Time = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("adminfeed: marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("adminfeed: broadcast channel full, dropping event kind=%s", ev.Kind)
	}
}

// ServeHTTP upgrades the connection and attaches it to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("adminfeed: upgrade failed: %v", err)
		return
	}
	c := &client{id: randomClientID(), conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

func (c *client) readPump(h *Hub) {
	defer func() { h.unregister <- c }()

	c.conn.SetReadLimit(1 << 16)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// The feed is read-only: any inbound message is just drained to
		// keep the control frames (ping/pong/close) flowing.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(gws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gws.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
