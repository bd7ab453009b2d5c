// Package notify fans out order and batch events to connected clients.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rpattn/bulkorders/internal/logging"
)

// Event types.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventBatchCompleted     = "batch.completed"
	EventBatchFailed        = "batch.failed"
)

const defaultBuffer = 64

// ErrInvalidClient is returned when subscribing without a client id.
var ErrInvalidClient = errors.New("client id is required")

// Event is one published notification.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Notifier publishes events. Publishing is best effort and never fails the caller.
type Notifier interface {
	Publish(ctx context.Context, eventType string, payload any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}

// Hub is an in-process Notifier with explicit per-client subscriptions.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	buffer      int
	now         func() time.Time
}

// NewHub creates a hub whose subscriber channels hold up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subscribers: make(map[string]chan Event),
		buffer:      buffer,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers clientID and returns its event channel. Subscribing an
// id that is already registered replaces (and closes) the previous channel.
func (h *Hub) Subscribe(clientID string) (<-chan Event, error) {
	if clientID == "" {
		return nil, ErrInvalidClient
	}
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if old, ok := h.subscribers[clientID]; ok {
		close(old)
	}
	h.subscribers[clientID] = ch
	h.mu.Unlock()

	slog.Debug("notifier subscriber added", "client_id", clientID)
	return ch, nil
}

// Unsubscribe removes clientID and closes its channel. Unknown ids are ignored.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	ch, ok := h.subscribers[clientID]
	if ok {
		delete(h.subscribers, clientID)
		close(ch)
	}
	h.mu.Unlock()

	if ok {
		slog.Debug("notifier subscriber removed", "client_id", clientID)
	}
}

// UnsubscribeChannel removes clientID only if ch is still its current channel.
func (h *Hub) UnsubscribeChannel(clientID string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.subscribers[clientID]; ok && (<-chan Event)(current) == ch {
		delete(h.subscribers, clientID)
		close(current)
	}
}

// Publish delivers the event to every subscriber without blocking. Subscribers
// whose buffer is full miss the event.
func (h *Hub) Publish(ctx context.Context, eventType string, payload any) {
	event := Event{Type: eventType, Payload: payload, At: h.now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for clientID, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			logging.FromContext(ctx).Warn("notifier dropped event", "client_id", clientID, "event", eventType)
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
