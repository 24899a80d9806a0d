package gateway

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"auxroom/internal/room"
)

// Hub owns the connected clients, keyed by room, and fans events out to
// them. It implements room.Broadcaster.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	log   zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		log:   log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[c.roomID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[c.roomID] = clients
	}
	clients[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	if _, ok := clients[c]; ok {
		delete(clients, c)
		close(c.send)
	}
	if len(clients) == 0 {
		delete(h.rooms, c.roomID)
	}
}

// connections counts how many live connections an identity holds in a
// room.
func (h *Hub) connections(roomID, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.rooms[roomID] {
		if c.userID == userID {
			n++
		}
	}
	return n
}

// toClient queues a payload on one connection if the hub still tracks
// it. Targeted sends take the hub lock like broadcasts do, so a
// concurrent drop cannot race the channel close.
func (h *Hub) toClient(c *Client, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[c.roomID][c]; !ok {
		return
	}
	h.deliver(c, payload)
}

// deliver queues a payload on a client, dropping the client if its send
// buffer is full (slow consumer). Caller holds h.mu; the hub is the only
// place c.send is ever closed.
func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		delete(h.rooms[c.roomID], c)
		close(c.send)
		_ = c.conn.Close()
	}
}

func (h *Hub) send(roomID string, event room.Event, include func(*Client) bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("event", event.Type).Msg("encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		if include == nil || include(c) {
			h.deliver(c, payload)
		}
	}
}

// ToRoom sends an event to every member of a room, sender included.
func (h *Hub) ToRoom(roomID string, event room.Event) {
	h.send(roomID, event, nil)
}

// ToOthers sends an event to every member except one identity.
func (h *Hub) ToOthers(roomID, exceptUserID string, event room.Event) {
	h.send(roomID, event, func(c *Client) bool { return c.userID != exceptUserID })
}

// ToUser sends an event to a single identity's connections in a room.
func (h *Hub) ToUser(roomID, userID string, event room.Event) {
	h.send(roomID, event, func(c *Client) bool { return c.userID == userID })
}
