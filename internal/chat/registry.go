// Package chat implements the room registry, the per-connection protocol
// session, and room broadcasting for the chat endpoint.
package chat

import (
	"log/slog"
	"sort"
	"sync"
)

// Connection is the duplex message channel a session talks over. The registry
// only keeps references to it; the session bound to it owns it.
type Connection interface {
	ID() string
	Send(msg any) error
	Receive() ([]byte, error)
	Close() error
}

// Member is one (nickname, connection) entry of a room snapshot.
type Member struct {
	Nick string
	Conn Connection
}

// Stats summarizes registry occupancy.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// Registry maps room name to nickname to connection. Every mutation runs the
// check-then-insert sequence under one lock, so two sessions can never both
// claim the same nickname in a room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Connection
	log   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms: make(map[string]map[string]Connection),
		log:   logger,
	}
}

// Join inserts nick into room, creating the room if needed.
func (r *Registry) Join(room, nick string, c Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.rooms[room][nick]; taken {
		return ErrNameInUse
	}
	r.insert(room, nick, c)
	r.log.Debug("Member joined", "room", room, "user", nick)
	return nil
}

// Leave removes nick from room. Leaving twice, or leaving a room that does not
// exist, is a no-op.
func (r *Registry) Leave(room, nick string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remove(room, nick) {
		r.log.Debug("Member left", "room", room, "user", nick)
	}
}

// Rename replaces oldNick with newNick in room, bound to c. It reports whether
// anything changed: renaming to the current name succeeds without a change.
func (r *Registry) Rename(room, oldNick, newNick string, c Connection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, taken := r.rooms[room][newNick]; taken {
		if holder == c && oldNick == newNick {
			return false, nil
		}
		return false, ErrNameInUse
	}

	r.remove(room, oldNick)
	r.insert(room, newNick, c)
	r.log.Debug("Member renamed", "room", room, "from", oldNick, "to", newNick)
	return true, nil
}

// Move takes nick out of from and puts it into to, keeping the same
// connection. On ErrNameInUse the membership in from is untouched. Moving into
// the current room succeeds without a change.
func (r *Registry) Move(c Connection, from, nick, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, taken := r.rooms[to][nick]; taken {
		if holder == c && from == to {
			return false, nil
		}
		return false, ErrNameInUse
	}

	r.remove(from, nick)
	r.insert(to, nick, c)
	r.log.Debug("Member moved", "from", from, "to", to, "user", nick)
	return true, nil
}

// ListUsers returns the sorted nicknames in room. The result is a snapshot and
// is never nil.
func (r *Registry) ListUsers(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.rooms[room]))
	for nick := range r.rooms[room] {
		users = append(users, nick)
	}
	sort.Strings(users)
	return users
}

// Members returns a snapshot of room for fan-out. The lock is released before
// the caller does any I/O.
func (r *Registry) Members(room string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Member, 0, len(r.rooms[room]))
	for nick, c := range r.rooms[room] {
		members = append(members, Member{Nick: nick, Conn: c})
	}
	return members
}

// Lookup returns the connection holding nick in room.
func (r *Registry) Lookup(room, nick string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.rooms[room][nick]
	return c, ok
}

// Stats returns room and member counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Rooms: len(r.rooms)}
	for _, members := range r.rooms {
		stats.Members += len(members)
	}
	return stats
}

func (r *Registry) insert(room, nick string, c Connection) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Connection)
		r.rooms[room] = members
	}
	members[nick] = c
}

// remove deletes nick and drops the room once it is empty.
func (r *Registry) remove(room, nick string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[nick]; !ok {
		return false
	}
	delete(members, nick)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	return true
}
