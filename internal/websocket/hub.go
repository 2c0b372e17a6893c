// Package websocket pushes engine change events to connected browsers.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	ws "github.com/coder/websocket"
	"github.com/dukerupert/teacaddy/internal/reconcile"
)

// Message is one change notification. Clients refetch /api/state on receipt.
type Message struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

func NewMessage(entity, action, id string) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
	}
}

// HelloMessage is sent to every client right after it connects.
var HelloMessage = NewMessage("feed", "connected", "")

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.send(c, HelloMessage)
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) send(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Broadcast sends msg to all clients. A client whose buffer is full misses it.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("client buffer full, message dropped", "type", msg.Type)
		}
	}
}

// Publish forwards an engine event. It has the signature Engine.Subscribe
// expects.
func (h *Hub) Publish(ev reconcile.Event) {
	h.Broadcast(NewMessage(ev.Entity, ev.Action, ev.ID))
}

// CloseAll tells every connected client the server is going away and waits
// for the close handshakes.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.close(ws.StatusGoingAway, "server shutting down")
		}()
	}
	wg.Wait()
	if len(clients) > 0 {
		h.logger.Info("closed feed clients", "count", len(clients))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
