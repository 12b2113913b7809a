package hub

import (
	"sync"
)

type roomEntry struct {
	byID  map[string]*Client
	order []*Client // insertion order, for peer discovery
}

// Registry is the in-memory source of truth for who is connected to which
// room right now. It is process-local and rebuilt from nothing on restart;
// callers propagate changes to the persisted room record.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*roomEntry
	roomOf map[string]string // connection id -> room code
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*roomEntry),
		roomOf: make(map[string]string),
	}
}

// Open creates the room entry if absent (idempotent)
func (r *Registry) Open(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open(code)
}

func (r *Registry) open(code string) *roomEntry {
	entry, ok := r.rooms[code]
	if !ok {
		entry = &roomEntry{byID: make(map[string]*Client)}
		r.rooms[code] = entry
	}
	return entry
}

// Join adds a connection to a room and returns the other connections already
// there, in insertion order.
func (r *Registry) Join(code string, c *Client) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.open(code)
	others := make([]*Client, 0, len(entry.order))
	for _, m := range entry.order {
		if m.ID != c.ID {
			others = append(others, m)
		}
	}

	if _, ok := entry.byID[c.ID]; !ok {
		entry.byID[c.ID] = c
		entry.order = append(entry.order, c)
		r.roomOf[c.ID] = code
	}
	return others
}

// Leave removes a connection from a room. Returns the removed client, or nil
// when the room or connection was already gone (idempotent).
func (r *Registry) Leave(code, connID string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[code]
	if !ok {
		return nil
	}
	c, ok := entry.byID[connID]
	if !ok {
		return nil
	}

	delete(entry.byID, connID)
	delete(r.roomOf, connID)
	for i, m := range entry.order {
		if m.ID == connID {
			entry.order = append(entry.order[:i], entry.order[i+1:]...)
			break
		}
	}
	return c
}

// IsEmpty reports whether a room has no connections left. A missing room
// counts as empty.
func (r *Registry) IsEmpty(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.rooms[code]
	return !ok || len(entry.byID) == 0
}

// Close deletes the room entry
func (r *Registry) Close(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[code]
	if !ok {
		return
	}
	for id := range entry.byID {
		delete(r.roomOf, id)
	}
	delete(r.rooms, code)
}

// Members returns the connections in a room, in insertion order
func (r *Registry) Members(code string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.rooms[code]
	if !ok {
		return nil
	}
	members := make([]*Client, len(entry.order))
	copy(members, entry.order)
	return members
}

// Count returns the number of connections in a room
func (r *Registry) Count(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.rooms[code]
	if !ok {
		return 0
	}
	return len(entry.byID)
}

// RoomOf returns the room a connection is currently in, or ""
func (r *Registry) RoomOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomOf[connID]
}

// Find returns a connection by id, searching its current room
func (r *Registry) Find(connID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.roomOf[connID]
	if !ok {
		return nil
	}
	entry, ok := r.rooms[code]
	if !ok {
		return nil
	}
	return entry.byID[connID]
}
