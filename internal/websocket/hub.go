package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mfeltner/basket/internal/model"
)

// Snapshot is a full replacement view of one list's items, broadcast to every
// subscriber of that list after a successful write. Revision orders snapshots;
// Origin identifies the writing session so clients can ignore their own echo.
type Snapshot struct {
	ListID    string               `json:"list_id"`
	Items     []model.ShoppingItem `json:"items"`
	Revision  int64                `json:"revision"`
	UpdatedAt time.Time            `json:"updated_at"`
	Origin    string               `json:"origin,omitempty"`
}

// Hub maintains the set of active WebSocket clients, keyed by the list each
// client subscribed to, and fans snapshots out per list.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client to its list's topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	clients, ok := h.topics[c.listID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.topics[c.listID] = clients
	}
	clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Empty topics are
// dropped so the map does not grow with abandoned list ids.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.topics[c.listID]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.topics, c.listID)
		}
	}
	h.mu.Unlock()
}

// Broadcast sends a snapshot to every client subscribed to the snapshot's list.
func (h *Hub) Broadcast(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("marshal snapshot", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.topics[snap.ListID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
		}
	}
}

// SubscriberCount returns the number of clients subscribed to a list.
func (h *Hub) SubscriberCount(listID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[listID])
}
