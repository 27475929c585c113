package realtime

import (
	"sync"

	"github.com/talimy/notify/id"
)

// Registry tracks room membership. Membership is ephemeral and
// connection-scoped: joining happens at handshake, leaving at disconnect.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[id.ConnectionID]*Connection
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[id.ConnectionID]*Connection)}
}

// Join adds the connection to the given rooms.
func (r *Registry) Join(c *Connection, rooms ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range rooms {
		members := r.rooms[room]
		if members == nil {
			members = make(map[id.ConnectionID]*Connection)
			r.rooms[room] = members
		}
		members[c.ID] = c
	}
}

// Leave removes the connection from every room it joined.
func (r *Registry) Leave(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, members := range r.rooms {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Broadcast queues the event on every connection in the room and returns
// how many connections accepted it. Full buffers drop the event.
func (r *Registry) Broadcast(room string, e Event) int {
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[room]))
	for _, c := range r.rooms[room] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if c.push(e) {
			delivered++
		}
	}
	return delivered
}

// RoomSize returns the number of connections in a room.
func (r *Registry) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
