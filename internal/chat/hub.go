package chat

import (
	"sync"

	"github.com/samber/lo"
)

// Hub is the registry of open connections, keyed by Conn.ID.
type Hub struct {
	conns map[string]Conn
	mu    sync.RWMutex
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]Conn),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
}

// Unregister removes a connection from the hub. Unknown connections are ignored.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn.ID())
}

// Snapshot returns the registered connections at the time of the call.
// The returned slice belongs to the caller.
func (h *Hub) Snapshot() []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Values(h.conns)
}

// Count returns number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
