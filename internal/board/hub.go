// Package board fans queue events out to waiting-room display boards over
// SockJS.
package board

import (
	"encoding/json"
	"sync"
	"time"

	"clinic/queue-service/internal/queue"

	"github.com/rs/zerolog"
)

type Client struct {
	ID   string
	Send chan []byte
	// Day filters events to one queue day; empty receives everything.
	Day string
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Day    string `json:"day"`
}

type eventEnvelope struct {
	Type        string `json:"type"`
	Day         string `json:"day"`
	TokenNumber int    `json:"token_number,omitempty"`
	Deleted     int64  `json:"deleted,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, day string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Day = day
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify implements queue.Notifier.
func (h *Hub) Notify(event queue.Event) {
	payload, err := json.Marshal(eventEnvelope{
		Type:        event.Type,
		Day:         event.Day,
		TokenNumber: event.TokenNumber,
		Deleted:     event.Deleted,
		OccurredAt:  event.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("encode board event")
		return
	}
	h.Broadcast(payload, event.Day)
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, day string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Day != "" && client.Day != day {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn().Str("client_id", client.ID).Msg("drop board message")
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
