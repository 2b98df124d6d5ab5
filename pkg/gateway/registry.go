package gateway

import (
	"sync"
	"time"
)

// ClientRegistry tracks connected clients. At most one client is bound
// to a session at a time; binding a new client to a session returns the
// old one so the caller can close it.
type ClientRegistry struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	bySession map[string]*Client
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients:   make(map[string]*Client),
		bySession: make(map[string]*Client),
	}
}

// Add binds the client to its session and returns the previous holder
// of that session, if any.
func (r *ClientRegistry) Add(client *Client) (replaced *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	replaced = r.bySession[client.SessionID]
	r.clients[client.ID] = client
	r.bySession[client.SessionID] = client
	return replaced
}

// Remove drops the client. The session binding is cleared only if this
// client still holds it; a reconnect may already have taken over.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[clientID]
	if !ok {
		return
	}
	delete(r.clients, clientID)
	if r.bySession[client.SessionID] == client {
		delete(r.bySession, client.SessionID)
	}
}

// Get retrieves a client by id.
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[clientID]
	return client, ok
}

// BySession retrieves the client currently bound to a session.
func (r *ClientRegistry) BySession(sessionID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.bySession[sessionID]
	return client, ok
}

// GetAll returns all connected clients.
func (r *ClientRegistry) GetAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// GetConnectedClients returns client information for all connections.
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		last := client.LastActivity()
		infos = append(infos, ClientInfo{
			ID:           client.ID,
			SessionID:    client.SessionID,
			ConnectedAt:  client.ConnectedAt,
			LastActivity: last,
			IPAddress:    client.IPAddress,
			Idle:         now.Sub(last) > 5*time.Minute,
		})
	}
	return infos
}
