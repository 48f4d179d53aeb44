package realtime

import (
	"log/slog"
	"sync"
)

// clientBufferSize is the outbound channel buffer per client. A client
// that falls this far behind starts losing events and catches up on the
// next history fetch.
const clientBufferSize = 64

// Event is the envelope delivered to joined clients.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Payload        any    `json:"message,omitempty"`
}

// Client is one connected realtime consumer. Send is drained by the
// connection's writer goroutine.
type Client struct {
	ID   string
	Send chan Event
}

// Hub is a room-based broker: rooms are conversation IDs, and a publish
// fans an event out to every client currently joined to that room.
// Delivery is fire-and-forget; a full client buffer drops the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{} // roomID -> clientIDs
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
		logger:  logger.With("component", "realtime_hub"),
	}
}

// Connect registers a client and returns it. The caller owns draining
// the Send channel until Disconnect.
func (h *Hub) Connect(clientID string) *Client {
	c := &Client{
		ID:   clientID,
		Send: make(chan Event, clientBufferSize),
	}
	h.mu.Lock()
	h.clients[clientID] = c
	h.mu.Unlock()
	return c
}

// Disconnect removes the client from every room and closes its channel.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	delete(h.clients, clientID)
	for roomID, members := range h.rooms {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	close(c.Send)
}

// Join subscribes a connected client to a room. Unknown clients are ignored.
func (h *Hub) Join(clientID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]struct{})
	}
	h.rooms[roomID][clientID] = struct{}{}
}

// Leave unsubscribes a client from a room.
func (h *Hub) Leave(clientID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// Publish fans the event out to all clients joined to the room, in
// publish order per client. Non-blocking: a slow client loses the event
// rather than delaying anyone else.
func (h *Hub) Publish(roomID, event string, payload any) {
	e := Event{
		Type:           event,
		ConversationID: roomID,
		Payload:        payload,
	}

	// Sends stay under the read lock: they never block, and Disconnect
	// (write lock) cannot close a channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id := range h.rooms[roomID] {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		select {
		case c.Send <- e:
		default:
			h.logger.Debug("dropped event for slow client",
				"client_id", c.ID,
				"conversation_id", roomID,
				"event", event)
		}
	}
}
