package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// RedisPublisher publishes room events for cross-instance broadcast.
type RedisPublisher interface {
	PublishRoomEvent(room, origin, event string, payload []byte) error
}

// RedisSubscriber subscribes to room channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeRoom(room string, handler func(origin, event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains room -> set of connections and broadcasts messages.
// Rooms are either stream broadcast groups or course update channels.
// Uses Redis pub/sub for horizontal scaling: local broadcast + publish to Redis.
type Hub struct {
	// room -> map[clientID]*Client
	rooms      map[string]map[string]*Client
	subs       map[string]func() // cancel Redis subscription per room
	mu         sync.RWMutex
	instanceID string
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		rooms:      make(map[string]map[string]*Client),
		subs:       make(map[string]func()),
		instanceID: uuid.New().String(),
		logger:     logger,
		redis:      redisPub,
		redisSub:   redisSub,
	}
}

// Join adds a client to a room. Starts the Redis subscription for this room if
// it is the first client.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeRoom(room, func(origin, event string, payload []byte) {
				if origin == h.instanceID {
					return // already delivered locally
				}
				h.broadcastLocal(room, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[room] = cancel
			}
		}
	}
	h.rooms[room][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("room", room))
}

// Leave removes a client from a room. Cancels the Redis subscription when the
// last client leaves.
func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	if m, ok := h.rooms[room]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, room)
			if cancel, ok := h.subs[room]; ok {
				cancel()
				delete(h.subs, room)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left room", zap.String("client_id", c.ID), zap.String("room", room))
}

// LeaveAll removes a client from every room it joined.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	var empty []string
	for room, m := range h.rooms {
		if _, ok := m[c.ID]; ok {
			delete(m, c.ID)
			if len(m) == 0 {
				empty = append(empty, room)
			}
		}
	}
	for _, room := range empty {
		delete(h.rooms, room)
		if cancel, ok := h.subs[room]; ok {
			cancel()
			delete(h.subs, room)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) broadcastLocal(room, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.rooms[room]
	h.mu.RUnlock()

	if clients == nil {
		return
	}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Broadcast sends an event to all clients in a room, local and remote.
func (h *Hub) Broadcast(room, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.broadcastLocal(room, event, json.RawMessage(data))
	if h.redis != nil {
		_ = h.redis.PublishRoomEvent(room, h.instanceID, event, data)
	}
}

// SendTo sends an event to a single client in a room (for targeted signaling).
func (h *Hub) SendTo(room, clientID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	c, ok := h.rooms[room][clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// Count returns the number of connected clients in a room.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
