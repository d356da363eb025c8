// Package app holds per-instance state shared by every connection.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

type localUser struct {
	Conn      core.SignalConnection
	Name      string
	IsTeacher bool
}

// Registry is the per-instance room→user cache used for synchronous
// same-instance broadcast. The distributed store stays authoritative;
// this map only tracks connections this process owns.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]*localUser
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]map[domain.UserID]*localUser),
	}
}

func (r *Registry) Add(roomID domain.RoomID, userID domain.UserID, conn core.SignalConnection, name string, isTeacher bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[domain.UserID]*localUser)
		r.rooms[roomID] = room
	}
	room[userID] = &localUser{Conn: conn, Name: name, IsTeacher: isTeacher}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("user", string(userID)).Msg("added to room")
}

// Remove deletes the user and reports how many local members remain.
func (r *Registry) Remove(roomID domain.RoomID, userID domain.UserID) (name string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, found := r.rooms[roomID]
	if !found {
		return "", 0, false
	}
	u, found := room[userID]
	if !found {
		return "", len(room), false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Str("user", string(userID)).Msg("removed from room")
	return u.Name, len(room), true
}

func (r *Registry) Get(roomID domain.RoomID, userID domain.UserID) (name string, isTeacher bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, found := r.rooms[roomID]
	if !found {
		return "", false, false
	}
	u, found := room[userID]
	if !found {
		return "", false, false
	}
	return u.Name, u.IsTeacher, true
}

// Teacher returns the first teacher present in the local room.
func (r *Registry) Teacher(roomID domain.RoomID) (domain.UserID, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for uid, u := range r.rooms[roomID] {
		if u.IsTeacher {
			return uid, u.Name, true
		}
	}
	return "", "", false
}

// MemberSnap is one entry of a room snapshot taken by Members.
type MemberSnap struct {
	UserID domain.UserID
	Conn   core.SignalConnection
}

// Members snapshots the local room so callers can fan out without
// holding the registry lock.
func (r *Registry) Members(roomID domain.RoomID) []MemberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[roomID]
	out := make([]MemberSnap, 0, len(room))
	for uid, u := range room {
		out = append(out, MemberSnap{UserID: uid, Conn: u.Conn})
	}
	return out
}

func (r *Registry) Count(roomID domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
