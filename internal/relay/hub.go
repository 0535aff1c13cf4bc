// Package relay pushes backend bus events to WebSocket subscribers.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/go-kratos/kratos/v2/log"

	"healthpay-gateway/internal/metrics"
	"healthpay-gateway/internal/model"
	pkglog "healthpay-gateway/pkg/log"
)

// Hub tracks connections and their room subscriptions. Fan-out never
// blocks: a subscriber whose send buffer is full is dropped rather than
// stalling delivery to the rest of the room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	metrics *metrics.Metrics
	log     *pkglog.LogHelper
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, logger log.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		metrics: m,
		log:     pkglog.NewLogHelper(logger),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.RelayConnections.Set(float64(n))
	h.log.Relay("client connected", "user_id", c.userID, "connections", n)
}

// Unregister removes a connection and all its subscriptions. It is
// idempotent; both pumps call it on their way out.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(room, c)
	}
	n := len(h.clients)
	rooms := len(h.rooms)
	h.mu.Unlock()

	c.closeSend()
	h.metrics.RelayConnections.Set(float64(n))
	h.metrics.RelayRooms.Set(float64(rooms))
	h.log.Relay("client disconnected", "user_id", c.userID, "connections", n)
}

// Join subscribes a connection to a room.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	subs, ok := h.rooms[room]
	if !ok {
		subs = make(map[*Client]struct{})
		h.rooms[room] = subs
	}
	subs[c] = struct{}{}
	c.rooms[room] = struct{}{}
	rooms := len(h.rooms)
	h.mu.Unlock()
	h.metrics.RelayRooms.Set(float64(rooms))
}

// Leave unsubscribes a connection from a room.
func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	h.leaveLocked(room, c)
	delete(c.rooms, room)
	rooms := len(h.rooms)
	h.mu.Unlock()
	h.metrics.RelayRooms.Set(float64(rooms))
}

func (h *Hub) leaveLocked(room string, c *Client) {
	if subs, ok := h.rooms[room]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast delivers msg to every subscriber of room. Slow consumers are
// collected under the read lock and dropped afterwards.
func (h *Hub) Broadcast(room string, msg *model.PushMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Relay("failed to encode push message", "error", err)
		return
	}

	h.mu.RLock()
	subs := h.rooms[room]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range targets {
		if c.trySend(payload) {
			h.metrics.RelayDelivered.Inc()
		} else {
			h.metrics.RelayDropped.Inc()
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.metrics.RelaySlowConsumers.Inc()
		h.log.Relay("dropping slow consumer", "user_id", c.userID, "room", room)
		h.Unregister(c)
	}
}

// Stats reports connection and room counts for the health endpoint.
func (h *Hub) Stats() (connections, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}
