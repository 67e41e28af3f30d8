package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dukerupert/todo/internal/model"
)

const (
	EntityEvent  = "event"
	EntityBackup = "backup"
)

const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionDeleted       = "deleted"
	ActionDeletedAll    = "deleted_all"
	ActionCompleted     = "completed"
	ActionUncompleted   = "uncompleted"
	ActionStatusChanged = "status_changed"
)

// Message is a change notification broadcast to every client.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// EventMessage describes an event after action was applied to it.
func EventMessage(action string, e *model.Event) Message {
	extra := map[string]any{
		"status":   e.Status,
		"priority": e.Priority,
	}
	if e.Deadline != nil {
		extra["deadline"] = e.Deadline.String()
	}
	return NewMessage(EntityEvent, action, e.ID, extra)
}

// Hub maintains the set of connected clients and fans messages out to them.
// Broadcast never blocks: a client whose buffer is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", "clients", n)
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("client disconnected", "clients", n)
	}
}

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
			h.dropped.Add(1)
			h.logger.Debug("client buffer full, message dropped", "type", msg.Type)
		}
	}
}

// StatusChanged broadcasts a reconciled status transition. Its signature
// matches event.ReconcileFunc.
func (h *Hub) StatusChanged(id int64, from, to model.Status) {
	h.Broadcast(NewMessage(EntityEvent, ActionStatusChanged, id, map[string]any{
		"from": from,
		"to":   to,
	}))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped reports how many messages were skipped because a client was slow.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
