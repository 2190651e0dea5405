// Package ws is the websocket transport: a topic hub plus the per-connection
// read/write pumps. Topics are group ids and session tokens; the hub knows
// nothing about what either means.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"weat-sync/go-backend/internal/wire"
)

// Hub tracks connections and their topic subscriptions and fans frames out
// to topic members. Delivery is best-effort: a client whose send buffer is
// full misses the frame and recovers via first-render.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]bool
	clients map[*Client]bool

	log *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		topics:  make(map[string]map[*Client]bool),
		clients: make(map[*Client]bool),
		log:     log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for topic, members := range h.topics {
		if members[c] {
			delete(members, c)
			if len(members) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(c.send)
}

// Join subscribes a connection to a topic.
func (h *Hub) Join(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][c] = true
}

// Leave unsubscribes a connection from a topic.
func (h *Hub) Leave(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.topics[topic]
	if members == nil {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.topics, topic)
	}
}

// Emit sends one frame to every member of the topic. The originating
// connection is not filtered out.
func (h *Hub) Emit(topic string, frame wire.Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("frame marshal failed", "event", frame.Event, "error", err)
		return
	}
	// Sends happen under the read lock: unregister closes a client's send
	// channel under the write lock, so a send can never hit a closed channel.
	// The sends are non-blocking, so holding the lock cannot stall.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[topic] {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("dropping frame for slow connection", "conn_id", c.ID(), "event", frame.Event)
		}
	}
}

// TopicSize reports the number of connections subscribed to a topic.
func (h *Hub) TopicSize(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// IsSoleMember reports whether c is the only remaining subscriber of topic.
func (h *Hub) IsSoleMember(topic string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.topics[topic]
	return len(members) == 1 && members[c]
}

// ConnCount reports the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every registered client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
