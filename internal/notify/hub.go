package notify

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"buymax/internal/observability"
)

// Hub connection timings.
const (
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = hubPongWait * 9 / 10
	hubSendBuffer = 64
)

// Welcome returns the event sent to each client right after it connects.
type Welcome func(ctx context.Context) (Event, bool)

// Hub is a WebSocket endpoint that broadcasts every event to connected
// clients as JSON {"type","data"}. Clients that cannot keep up are dropped.
type Hub struct {
	upgrader websocket.Upgrader
	welcome  Welcome
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// HubOption configures Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger.
func WithHubLogger(l *log.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithWelcome sets the event sent to new clients.
func WithWelcome(w Welcome) HubOption {
	return func(h *Hub) {
		h.welcome = w
	}
}

// WithAllowedOrigin restricts upgrades to requests from origin. "*" or an
// empty origin allows any.
func WithAllowedOrigin(origin string) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			got := r.Header.Get("Origin")
			return origin == "" || origin == "*" || got == "" || got == origin
		}
	}
}

// NewHub creates a hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lshortfile),
		clients: make(map[*hubClient]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("Upgrade failed: %v", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, hubSendBuffer)}

	// Queued before registration so broadcasts cannot close send first.
	if h.welcome != nil {
		if ev, ok := h.welcome(r.Context()); ok {
			if payload, err := ev.Encode(); err == nil {
				c.send <- payload
			}
		}
	}

	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Printf("Client connected: %s", conn.RemoteAddr())

	go h.writePump(c)
	h.readPump(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Name implements Sink.
func (h *Hub) Name() string { return "websocket" }

// Publish implements Sink. It never blocks on a slow client.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Printf("Dropping slow client %s", c.conn.RemoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
	observability.SetWSClients(len(h.clients))
	return nil
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	observability.SetWSClients(0)
	return nil
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	observability.SetWSClients(len(h.clients))
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	observability.SetWSClients(len(h.clients))
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Printf("Client disconnected: %s", c.conn.RemoteAddr())
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on c.conn.
func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
