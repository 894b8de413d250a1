package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Hub maintains the set of connected clients and fans engine events out to
// them. It implements the engine's event sink, so the UI learns about sync
// passes, backups and connectivity flips as they happen.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// A reconnecting client replaces its old connection.
			if old, ok := h.clients[client.ID]; ok {
				close(old.send)
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.Printf("📱 Client connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 Client disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full, drop for this client rather than block.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish broadcasts an engine event to every connected client
func (h *Hub) Publish(event string, data map[string]interface{}) {
	msg, err := json.Marshal(map[string]interface{}{
		"type": event,
		"data": data,
		"at":   time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Error marshaling event %s: %v", event, err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Printf("⚠️ Event buffer full, dropping %s", event)
	}
}
