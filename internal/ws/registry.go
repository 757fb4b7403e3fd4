package ws

import (
	"log"
	"sync"

	"twatter-messaging/internal/models"
	"twatter-messaging/internal/observability"
)

// Registry maps a user id to all of that user's live connections. One
// instance is created at startup and injected everywhere that fans out.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]map[*Client]struct{})}
}

// Register adds a connection under the user id, creating the entry if
// absent. A user may hold any number of simultaneous connections.
func (r *Registry) Register(userID string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[userID]; !ok {
		r.clients[userID] = make(map[*Client]struct{})
	}
	r.clients[userID][client] = struct{}{}
}

// Unregister removes the connection. The user id key is deleted outright
// when its last connection goes away, never left as an empty set.
func (r *Registry) Unregister(userID string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.clients[userID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(r.clients, userID)
		}
	}
}

// Connections reports how many live connections the user has.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[userID])
}

// FanOut delivers one event to every live connection of the user. An
// offline user is a no-op. Delivery failure on one connection closes and
// removes it without stopping delivery to the rest.
func (r *Registry) FanOut(userID, event string, data any) {
	payload, err := models.NewEnvelope(event, data)
	if err != nil {
		log.Printf("fan-out marshal error: %v", err)
		return
	}

	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients[userID]))
	for client := range r.clients[userID] {
		targets = append(targets, client)
	}
	r.mu.RUnlock()

	for _, client := range targets {
		if err := client.sendRaw(payload); err != nil {
			log.Printf("websocket write error: %v", err)
			client.Close()
			r.Unregister(userID, client)
			observability.IncWSEvent("ws_error")
		}
	}
}
