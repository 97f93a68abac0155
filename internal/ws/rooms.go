package ws

import "sync"

// Rooms tracks which connections subscribe to which chat. Joining is a
// subscription only; authorization happens on the request path.
type Rooms struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]Conn
	byConn map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		byRoom: make(map[string]map[string]Conn),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join subscribes c to chatID and reports whether it was newly joined.
func (r *Rooms) Join(c Conn, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.byRoom[chatID]
	if !ok {
		members = make(map[string]Conn)
		r.byRoom[chatID] = members
	}
	if _, ok := members[c.ID()]; ok {
		return false
	}
	members[c.ID()] = c
	joined, ok := r.byConn[c.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[c.ID()] = joined
	}
	joined[chatID] = struct{}{}
	return true
}

// Leave unsubscribes c from chatID. Leaving a room never joined is a no-op.
func (r *Rooms) Leave(c Conn, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(c.ID(), chatID)
}

// LeaveAll unsubscribes c everywhere and returns the rooms it left.
func (r *Rooms) LeaveAll(c Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := make([]string, 0, len(r.byConn[c.ID()]))
	for chatID := range r.byConn[c.ID()] {
		left = append(left, chatID)
	}
	for _, chatID := range left {
		r.leaveLocked(c.ID(), chatID)
	}
	return left
}

// Members returns the connections currently joined to chatID.
func (r *Rooms) Members(chatID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byRoom[chatID]))
	for _, c := range r.byRoom[chatID] {
		out = append(out, c)
	}
	return out
}

func (r *Rooms) IsJoined(connID, chatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byRoom[chatID][connID]
	return ok
}

func (r *Rooms) leaveLocked(connID, chatID string) bool {
	members, ok := r.byRoom[chatID]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.byRoom, chatID)
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, chatID)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
	return true
}
