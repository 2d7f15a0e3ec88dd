package services

import (
	"sync"
	"time"
)

// ChangeEvent tells subscribers that a roster or task document changed.
// It carries identifiers only; clients re-query for the new state.
type ChangeEvent struct {
	Entity  string    `json:"entity"` // team, task, milestone
	Action  string    `json:"action"` // created, updated, deleted, missed
	ID      uint      `json:"id"`
	TeamID  uint      `json:"team_id"`
	Version uint      `json:"version,omitempty"`
	At      time.Time `json:"at"`
}

// EventHub fans change events out to connected SSE clients.
type EventHub struct {
	clients map[string]chan ChangeEvent
	mu      sync.RWMutex
}

func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]chan ChangeEvent),
	}
}

// Subscribe registers a client and returns its receive channel.
func (h *EventHub) Subscribe(clientID string) <-chan ChangeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan ChangeEvent, 100)
	h.clients[clientID] = ch
	return ch
}

func (h *EventHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Publish never blocks. Clients with a full buffer miss the event.
func (h *EventHub) Publish(event ChangeEvent) {
	if h == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var (
	globalEventHub *EventHub
	eventHubOnce   sync.Once
)

// GetEventHub returns the process-wide hub.
func GetEventHub() *EventHub {
	eventHubOnce.Do(func() {
		globalEventHub = NewEventHub()
	})
	return globalEventHub
}
