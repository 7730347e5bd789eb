package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thornvale/server/internal/core/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream frame shapes. Type picks the struct on the wire.
type tickMessage struct {
	Type      string `json:"type"`
	Tick      uint64 `json:"tick"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
	Layers    int    `json:"layers"`
}

type zoneMessage struct {
	Type   string   `json:"type"`
	Zone   string   `json:"zone"`
	Layers []string `json:"layers,omitempty"`
}

type autosaveMessage struct {
	Type   string `json:"type"`
	Layers int    `json:"layers"`
	Failed int    `json:"failed"`
}

// client is one websocket subscriber.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans simulation events out to websocket clients. Subscribers are
// read-only: inbound frames just keep the connection alive.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:     log.Named("ws"),
		clients: make(map[*client]struct{}),
	}
}

// BindBus forwards bus events to the connected clients.
func (h *Hub) BindBus(bus *event.Bus) {
	event.Subscribe(bus, func(ev event.WorldTick) {
		h.Broadcast(tickMessage{
			Type:      "tick",
			Tick:      ev.Tick.Number,
			Source:    ev.Tick.Source,
			Timestamp: ev.Tick.Timestamp.UnixMilli(),
			Layers:    ev.Delivered,
		})
	})
	event.Subscribe(bus, func(ev event.ZoneCreated) {
		h.Broadcast(zoneMessage{Type: "zone_created", Zone: ev.Zone, Layers: ev.Layers})
	})
	event.Subscribe(bus, func(ev event.ZoneDestroyed) {
		h.Broadcast(zoneMessage{Type: "zone_destroyed", Zone: ev.Zone})
	})
	event.Subscribe(bus, func(ev event.AutosaveCompleted) {
		h.Broadcast(autosaveMessage{Type: "autosave", Layers: ev.Layers, Failed: ev.Failed})
	})
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast marshals the message once and queues it to every client. A
// client whose buffer is full is disconnected rather than allowed to
// stall the rest.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("broadcast marshal failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
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

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
