package relayws

import (
	"sync"

	"nhooyr.io/websocket"
)

// Registry tracks live connections so they can be closed on shutdown.
type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewRegistry() *Registry { return &Registry{conns: make(map[*Conn]struct{})} }

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every tracked connection with StatusGoingAway.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, reason)
	}
	return len(conns)
}
