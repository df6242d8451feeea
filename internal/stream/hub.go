package stream

import (
	"context"
	"encoding/json"
	"log"

	"roadsense/internal/alerts"
	"roadsense/internal/models"
)

// Hub maintains the set of connected dashboard clients and fans
// accepted readings and events out to them. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Printf("[Stream] Client connected (%d active)", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("[Stream] Client disconnected (%d active)", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumers are dropped rather than allowed
					// to stall the stream.
					delete(h.clients, client)
					close(client.send)
					log.Printf("[Stream] Client send buffer full, dropping (%d active)", len(h.clients))
				}
			}
		}
	}
}

// Name identifies the hub in the acquisition loop's sink fan-out
func (h *Hub) Name() string {
	return "stream"
}

// Consume broadcasts one accepted reading to all connected clients.
// It never returns an error; delivery is best effort.
func (h *Hub) Consume(r models.Reading) error {
	h.enqueue("reading", r)
	return nil
}

// HandleEvent broadcasts a detected event to all connected clients
func (h *Hub) HandleEvent(event alerts.Event) {
	h.enqueue("event", event)
}

func (h *Hub) enqueue(messageType string, payload interface{}) {
	message, err := json.Marshal(map[string]interface{}{
		"type":    messageType,
		"payload": payload,
	})
	if err != nil {
		log.Printf("[Stream] Failed to marshal %s broadcast: %v", messageType, err)
		return
	}

	select {
	case h.broadcast <- message:
	default:
		log.Printf("[Stream] Broadcast queue full, dropping %s", messageType)
	}
}
