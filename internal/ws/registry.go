package ws

import (
	"sync"

	"messaging-service/internal/events"
)

const registryShards = 32

// Session is a live connection the registry can route to.
type Session interface {
	ID() string
	UserID() int64
	// Send queues an event and reports whether it was accepted.
	Send(event events.Event) bool
}

type entry struct {
	session Session
	rooms   map[int64]struct{}
}

type index struct {
	mu sync.RWMutex
	m  map[int64]map[string]Session
}

func (ix *index) add(key int64, s Session) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set, ok := ix.m[key]
	if !ok {
		set = make(map[string]Session)
		ix.m[key] = set
	}
	set[s.ID()] = s
}

// remove deletes connID under key and reports whether key is now empty.
func (ix *index) remove(key int64, connID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set, ok := ix.m[key]
	if !ok {
		return true
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(ix.m, key)
		return true
	}
	return false
}

func (ix *index) snapshot(key int64) []Session {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := ix.m[key]
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

func (ix *index) has(key int64, connID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.m[key][connID]
	return ok
}

func (ix *index) count(key int64) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.m[key])
}

// Registry maps users and group rooms to live sessions. It is process-local
// and never touches the store. Lock order is conns then index shard.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*entry
	users [registryShards]*index
	rooms [registryShards]*index
}

func NewRegistry() *Registry {
	r := &Registry{conns: make(map[string]*entry)}
	for i := 0; i < registryShards; i++ {
		r.users[i] = &index{m: make(map[int64]map[string]Session)}
		r.rooms[i] = &index{m: make(map[int64]map[string]Session)}
	}
	return r
}

func (r *Registry) userIndex(userID int64) *index {
	return r.users[uint64(userID)%registryShards]
}

func (r *Registry) roomIndex(groupID int64) *index {
	return r.rooms[uint64(groupID)%registryShards]
}

// Connect registers a session. A user may hold several sessions at once.
func (r *Registry) Connect(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[s.ID()]; exists {
		return false
	}
	r.conns[s.ID()] = &entry{session: s, rooms: make(map[int64]struct{})}
	r.userIndex(s.UserID()).add(s.UserID(), s)
	return true
}

// Disconnect removes the connection from its user and every room it joined.
// last reports whether the user has no connection left.
func (r *Registry) Disconnect(connID string) (userID int64, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return 0, false, false
	}
	delete(r.conns, connID)
	for groupID := range e.rooms {
		r.roomIndex(groupID).remove(groupID, connID)
	}
	userID = e.session.UserID()
	last = r.userIndex(userID).remove(userID, connID)
	return userID, last, true
}

// Route sends event to every connection of userID and returns how many
// accepted it. Unknown users are a no-op.
func (r *Registry) Route(userID int64, event events.Event) int {
	return deliver(r.userIndex(userID).snapshot(userID), event)
}

// RouteToGroup sends event to every connection joined to the group room.
func (r *Registry) RouteToGroup(groupID int64, event events.Event) int {
	return deliver(r.roomIndex(groupID).snapshot(groupID), event)
}

func deliver(sessions []Session, event events.Event) int {
	sent := 0
	for _, s := range sessions {
		if s.Send(event) {
			sent++
		}
	}
	return sent
}

// JoinRoom adds a connection to a group room.
func (r *Registry) JoinRoom(connID string, groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(connID, groupID)
}

func (r *Registry) joinLocked(connID string, groupID int64) bool {
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	e.rooms[groupID] = struct{}{}
	r.roomIndex(groupID).add(groupID, e.session)
	return true
}

// LeaveRoom removes a connection from a group room.
func (r *Registry) LeaveRoom(connID string, groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	if _, joined := e.rooms[groupID]; !joined {
		return false
	}
	delete(e.rooms, groupID)
	r.roomIndex(groupID).remove(groupID, connID)
	return true
}

// JoinUserToRoom joins every live connection of userID to the group room and
// returns how many were joined.
func (r *Registry) JoinUserToRoom(userID, groupID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined := 0
	for _, s := range r.userIndex(userID).snapshot(userID) {
		if r.joinLocked(s.ID(), groupID) {
			joined++
		}
	}
	return joined
}

func (r *Registry) InRoom(connID string, groupID int64) bool {
	return r.roomIndex(groupID).has(groupID, connID)
}

func (r *Registry) IsOnline(userID int64) bool {
	return r.userIndex(userID).count(userID) > 0
}

func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
