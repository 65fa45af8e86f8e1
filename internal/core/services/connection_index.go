package services

import (
	"sync"

	"signalhub/internal/core/domain"
)

// connectionIndex tracks which rooms each user's connections live in.
// It is always locked after a room lock, never before.
type connectionIndex struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]map[domain.ConnectionID]domain.RoomID
}

func newConnectionIndex() *connectionIndex {
	return &connectionIndex{
		byUser: make(map[domain.UserID]map[domain.ConnectionID]domain.RoomID),
	}
}

func (idx *connectionIndex) add(user domain.UserID, conn domain.ConnectionID, room domain.RoomID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	conns, ok := idx.byUser[user]
	if !ok {
		conns = make(map[domain.ConnectionID]domain.RoomID)
		idx.byUser[user] = conns
	}
	conns[conn] = room
}

func (idx *connectionIndex) remove(user domain.UserID, conn domain.ConnectionID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	conns, ok := idx.byUser[user]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(idx.byUser, user)
	}
}

// connectionsInRoom returns every live connection the user holds in the
// given room.
func (idx *connectionIndex) connectionsInRoom(user domain.UserID, room domain.RoomID) []domain.ConnectionID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []domain.ConnectionID
	for conn, r := range idx.byUser[user] {
		if r == room {
			out = append(out, conn)
		}
	}
	return out
}

func (idx *connectionIndex) size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := 0
	for _, conns := range idx.byUser {
		n += len(conns)
	}
	return n
}
