// Package rooms groups live connections by conversation id and fans frames
// out to every member of a room.
package rooms

import (
	"log/slog"
	"sync"
)

// Member is a connection that can receive frames. Send must not block.
type Member interface {
	ID() string
	Send(payload []byte) error
}

// Fanout owns the room membership tables. Broadcasts take a read lock only
// long enough to snapshot a room, so unrelated conversations never wait on
// each other's deliveries.
type Fanout struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]Member   // conversation id -> connection id -> member
	memberships map[string]map[string]struct{} // connection id -> conversation ids
	logger      *slog.Logger
}

// NewFanout creates an empty Fanout.
func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		rooms:       make(map[string]map[string]Member),
		memberships: make(map[string]map[string]struct{}),
		logger:      logger,
	}
}

// Join adds m to the conversation room. Joining twice is a no-op.
func (f *Fanout) Join(m Member, conversationID string) {
	if m == nil || conversationID == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	room := f.rooms[conversationID]
	if room == nil {
		room = make(map[string]Member)
		f.rooms[conversationID] = room
	}
	room[m.ID()] = m

	joined := f.memberships[m.ID()]
	if joined == nil {
		joined = make(map[string]struct{})
		f.memberships[m.ID()] = joined
	}
	joined[conversationID] = struct{}{}
}

// Leave removes connID from the conversation room. Leaving a room the
// connection is not in is a no-op.
func (f *Fanout) Leave(connID, conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveLocked(connID, conversationID)
}

// Purge removes connID from every room it joined.
func (f *Fanout) Purge(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for conversationID := range f.memberships[connID] {
		f.leaveLocked(connID, conversationID)
	}
	delete(f.memberships, connID)
}

// Broadcast delivers payload to every member of the room and returns the
// number of successful deliveries.
func (f *Fanout) Broadcast(conversationID string, payload []byte) int {
	return f.BroadcastExcept(conversationID, payload, "")
}

// BroadcastExcept is Broadcast skipping the connection excludeConnID. A
// failed send to one member does not affect the others.
func (f *Fanout) BroadcastExcept(conversationID string, payload []byte, excludeConnID string) int {
	members := f.snapshot(conversationID)

	delivered := 0
	for _, m := range members {
		if excludeConnID != "" && m.ID() == excludeConnID {
			continue
		}
		if err := m.Send(payload); err != nil {
			f.logger.Debug("room delivery failed", "conversation_id", conversationID, "conn_id", m.ID(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns the connection ids currently joined to the room.
func (f *Fanout) Members(conversationID string) []string {
	members := f.snapshot(conversationID)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID())
	}
	return ids
}

// RoomCount returns the number of non-empty rooms.
func (f *Fanout) RoomCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms)
}

func (f *Fanout) snapshot(conversationID string) []Member {
	f.mu.RLock()
	defer f.mu.RUnlock()

	room := f.rooms[conversationID]
	members := make([]Member, 0, len(room))
	for _, m := range room {
		members = append(members, m)
	}
	return members
}

func (f *Fanout) leaveLocked(connID, conversationID string) {
	room := f.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(f.rooms, conversationID)
	}
	if joined, ok := f.memberships[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(f.memberships, connID)
		}
	}
}
