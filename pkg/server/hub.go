package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	sendBufferSize = 64
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 50 * time.Second
	maxFrameSize   = 1 << 20
)

var ErrBufferFull = errors.New("connection send buffer full")

// Connection is one WebSocket client. It owns its conversation session.
type Connection struct {
	ID      string
	Session *conversation.Session

	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:      uuid.NewString(),
		Session: conversation.NewSession(),
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Connection) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Hub tracks the connected WebSocket clients.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

func NewHub() *Hub {
	return &Hub{
		connections: map[string]*Connection{},
	}
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c.ID] = c
	n := len(h.connections)
	h.mu.Unlock()
	log.Debug().Str("connection", c.ID).Int("connections", n).Msg("WebSocket client connected")
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	_, ok := h.connections[c.ID]
	delete(h.connections, c.ID)
	n := len(h.connections)
	h.mu.Unlock()
	if ok {
		c.close()
		log.Debug().Str("connection", c.ID).Int("connections", n).Msg("WebSocket client disconnected")
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Send queues data for c without blocking.
func (h *Hub) Send(c *Connection, data []byte) error {
	return c.enqueue(data)
}

func (h *Hub) SendJSON(c *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.Send(c, data)
}

// Broadcast queues data for every client except the one with id exclude.
// Clients whose buffer is full are dropped.
func (h *Hub) Broadcast(data []byte, exclude string) int {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.connections))
	for id, c := range h.connections {
		if id != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := h.Send(c, data); err != nil {
			log.Warn().Err(err).Str("connection", c.ID).Msg("Dropping WebSocket client")
			h.unregister(c)
			continue
		}
		sent++
	}
	return sent
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.connections
	h.connections = map[string]*Connection{}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
