package roomserver

import (
	"sync"

	"doubtdesk/pkg/types"
)

// Room names used by the relay
const RoomMentors = "mentors"

// RoomFor maps a join event and its key to the room it enters.
// Every mentor shares one room; each user gets a private one.
func RoomFor(joinEvent, key string) (string, bool) {
	switch joinEvent {
	case types.EventJoinUser:
		return "user:" + key, true
	case types.EventJoinMentor:
		return RoomMentors, true
	default:
		return "", false
	}
}

// UserRoom is the private room of one user
func UserRoom(userID string) string {
	room, _ := RoomFor(types.EventJoinUser, userID)
	return room
}

// peer is one connected client regardless of transport
type peer interface {
	ID() string
	UserID() string
	Deliver(frame types.Frame) error
	Close()
}

// Registry tracks peers and their room memberships.
// TECHNICAL DISCOVERY: RWMutex because broadcasts (reads) dominate joins.
type Registry struct {
	mu          sync.RWMutex
	peers       map[string]peer            // peerID -> peer
	rooms       map[string]map[string]peer // room -> peerID -> peer
	memberships map[string]map[string]bool // peerID -> rooms
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		peers:       make(map[string]peer),
		rooms:       make(map[string]map[string]peer),
		memberships: make(map[string]map[string]bool),
	}
}

// Register adds p; re-registering the same id replaces the old peer
func (r *Registry) Register(p peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.peers[p.ID()]
	if ok && old == p {
		return
	}
	if ok {
		for room := range r.memberships[p.ID()] {
			if members, ok := r.rooms[room]; ok {
				delete(members, p.ID())
				if len(members) == 0 {
					delete(r.rooms, room)
				}
			}
		}
	}
	r.peers[p.ID()] = p
	r.memberships[p.ID()] = make(map[string]bool)
}

// Unregister removes p from every room. Idempotent; a replaced peer
// cannot unregister its successor.
func (r *Registry) Unregister(p peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.peers[p.ID()]
	if !ok || current != p {
		return
	}
	delete(r.peers, p.ID())

	for room := range r.memberships[p.ID()] {
		if members, ok := r.rooms[room]; ok {
			delete(members, p.ID())
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.memberships, p.ID())
}

// Join puts a registered peer into room
func (r *Registry) Join(p peer, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.peers[p.ID()]; !ok || current != p {
		return false
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]peer)
	}
	r.rooms[room][p.ID()] = p
	r.memberships[p.ID()][room] = true
	return true
}

// Get looks a peer up by id
func (r *Registry) Get(id string) (peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Members returns the peers in room
func (r *Registry) Members(room string) []peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]peer, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	return out
}

// All returns every registered peer
func (r *Registry) All() []peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// GetStats reports peer and room counts
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"peers": len(r.peers),
		"rooms": len(r.rooms),
	}
}
