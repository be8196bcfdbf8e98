// Package live streams conversation events to WebSocket clients.
package live

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aexy-app/aexy/internal/conversation"
)

// clientBuffer is the number of frames a slow client may lag behind before
// frames are dropped.
const clientBuffer = 64

// client is one WebSocket connection watching a conversation.
type client struct {
	userID         string
	conversationID string
	out            chan any
	dropped        atomic.Int64
}

// push queues a frame without blocking. It reports false when the frame was dropped.
func (c *client) push(frame any) bool {
	select {
	case c.out <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Hub fans conversation events out to the clients watching them.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*client]struct{}
	logger  *slog.Logger
}

// NewHub creates a Hub. Attach it to a conversation.Bus with Subscribe.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		logger:  logger,
	}
}

// register adds a client for conversationID.
func (h *Hub) register(userID, conversationID string) *client {
	c := &client{
		userID:         userID,
		conversationID: conversationID,
		out:            make(chan any, clientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conversationID]; !ok {
		h.clients[conversationID] = make(map[*client]struct{})
	}
	h.clients[conversationID][c] = struct{}{}
	h.logger.Info("Live client registered", "user_id", userID, "conversation_id", conversationID)
	return c
}

// unregister removes c.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[c.conversationID]
	if !ok {
		return
	}
	if _, exists := clients[c]; !exists {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.clients, c.conversationID)
	}
	h.logger.Info("Live client unregistered",
		"user_id", c.userID,
		"conversation_id", c.conversationID,
		"dropped_frames", c.dropped.Load(),
	)
}

// Watchers returns the number of clients watching conversationID.
func (h *Hub) Watchers(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[conversationID])
}

// OnEvent implements conversation.Observer.
func (h *Hub) OnEvent(e conversation.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients[e.ConversationID] {
		if c.userID != e.UserID {
			continue
		}
		if !c.push(e) {
			h.logger.Debug("Live frame dropped", "conversation_id", e.ConversationID, "type", e.Type)
		}
	}
}
