package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/tinywatch/pkg/config"
	"github.com/nicktill/tinywatch/pkg/rawlog"
	"github.com/nicktill/tinywatch/pkg/rollup"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = direct connection (non-browser clients like curl, testing tools)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// RollupUpdate is the message streamed to websocket clients for every tier
// run that appended rows.
type RollupUpdate struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Tier      string          `json:"tier"`
	Timestamp int64           `json:"timestamp"`
	Count     int             `json:"count"`
	Rows      []rawlog.Record `json:"rows"`
}

func newRollupUpdate(res rollup.Result, now time.Time) RollupUpdate {
	return RollupUpdate{
		Type:      "rollup",
		Source:    res.Source,
		Tier:      res.Tier,
		Timestamp: now.Unix(),
		Count:     len(res.Rows),
		Rows:      res.Rows,
	}
}

// client is one websocket connection. Its writePump is the only goroutine
// that writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket connections for real-time rollup streaming
type Hub struct {
	// Registered clients
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	pingInterval time.Duration

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:      make(map[*client]bool),
		register:     make(chan *client, config.WSChannelBuffer),
		unregister:   make(chan *client, config.WSChannelBuffer),
		broadcast:    make(chan []byte, config.WSBroadcastBuffer),
		done:         make(chan struct{}),
		pingInterval: config.WSPingInterval,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			// Close all client connections on shutdown
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				c.conn.Close()
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debugf("WebSocket client connected (total: %d)", count)
		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			count := len(h.clients)
			h.mu.Unlock()
			log.Debugf("WebSocket client disconnected (total: %d)", count)
		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					log.Debug("WebSocket client too slow, disconnecting")
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c. The caller holds h.mu.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast sends a message to all connected clients. A full broadcast
// buffer drops the message.
func (h *Hub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		log.Warn("Broadcast channel full, dropping message")
	}
	return nil
}

// HasClients returns true if there are any connected WebSocket clients
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, config.WSClientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)

	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Read messages (mostly for handling control frames)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debugf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// writePump sends queued messages and keepalive pings until the hub closes
// c.send or a write fails.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debugf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
