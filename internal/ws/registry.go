package ws

import (
	"sort"
	"sync"
)

// Conn is one live transport session of a principal.
type Conn interface {
	ID() string
	UserID() string
	// Send queues a frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
	Close()
}

// Registry maps principals to their live connections. A principal may hold
// any number of concurrent connections.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]map[string]Conn)}
}

// Add registers c and reports whether it is the principal's first connection.
func (r *Registry) Add(c Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byUser[c.UserID()]
	if !ok {
		conns = make(map[string]Conn)
		r.byUser[c.UserID()] = conns
	}
	conns[c.ID()] = c
	return len(conns) == 1
}

// Remove drops exactly c and reports whether it was the principal's last
// connection. Removing an unknown connection reports false.
func (r *Registry) Remove(c Conn) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byUser[c.UserID()]
	if !ok {
		return false
	}
	if _, ok := conns[c.ID()]; !ok {
		return false
	}
	delete(conns, c.ID())
	if len(conns) == 0 {
		delete(r.byUser, c.UserID())
		return true
	}
	return false
}

// Count returns the number of live connections of userID.
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

func (r *Registry) ConnsForUser(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		out = append(out, c)
	}
	return out
}

func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byUser))
	for _, conns := range r.byUser {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// OnlineUsers lists principals with at least one connection on this node.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	return out
}

// Sessions describes every live connection that carries session details,
// oldest first.
func (r *Registry) Sessions() []ConnInfo {
	conns := r.All()
	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		if d, ok := c.(describer); ok {
			out = append(out, d.Info())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}
