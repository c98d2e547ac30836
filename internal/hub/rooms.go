package hub

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/xiaot623/chatline/internal/domain"
)

// Rooms tracks which conversation rooms each connection has joined.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]*Connection // room -> connection id -> conn
	joined  map[string]map[string]struct{}    // connection id -> rooms
	pairs   map[string]domain.Pair            // room -> participants
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]*Connection),
		joined:  make(map[string]map[string]struct{}),
		pairs:   make(map[string]domain.Pair),
	}
}

// Join adds conn to roomID, the room of the conversation between
// participants. It reports false when already a member.
func (r *Rooms) Join(conn *Connection, roomID string, participants domain.Pair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.members[roomID]
	if room == nil {
		room = make(map[string]*Connection)
		r.members[roomID] = room
	}
	r.pairs[roomID] = participants
	if _, ok := room[conn.ID]; ok {
		return false
	}
	room[conn.ID] = conn

	rooms := r.joined[conn.ID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		r.joined[conn.ID] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// Leave removes the membership. It reports false when there was none.
func (r *Rooms) Leave(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID, roomID)
}

func (r *Rooms) leaveLocked(connID, roomID string) bool {
	room, ok := r.members[roomID]
	if !ok {
		return false
	}
	if _, ok := room[connID]; !ok {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.members, roomID)
		delete(r.pairs, roomID)
	}
	if rooms := r.joined[connID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
	return true
}

// LeaveAll removes connID from every room and returns the rooms it left.
func (r *Rooms) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := lo.Keys(r.joined[connID])
	for _, roomID := range left {
		r.leaveLocked(connID, roomID)
	}
	sort.Strings(left)
	return left
}

// Drop dissolves a room, returning the connection ids that were in it.
func (r *Rooms) Drop(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := lo.Keys(r.members[roomID])
	for _, connID := range ids {
		r.leaveLocked(connID, roomID)
	}
	sort.Strings(ids)
	return ids
}

// MembersOf returns the connection ids in roomID, sorted.
func (r *Rooms) MembersOf(roomID string) []string {
	r.mu.RLock()
	ids := lo.Keys(r.members[roomID])
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Participants returns the conversation pair of a room that has members.
func (r *Rooms) Participants(roomID string) (domain.Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pair, ok := r.pairs[roomID]
	return pair, ok
}

// connections returns a snapshot of the room's connections.
func (r *Rooms) connections(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.members[roomID])
}

func (r *Rooms) IsMember(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[roomID][connID]
	return ok
}

// RoomsOf returns the rooms connID has joined, sorted.
func (r *Rooms) RoomsOf(connID string) []string {
	r.mu.RLock()
	rooms := lo.Keys(r.joined[connID])
	r.mu.RUnlock()
	sort.Strings(rooms)
	return rooms
}

// Count returns the number of non-empty rooms.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
