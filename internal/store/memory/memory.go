// Package memory is an in-process RoomStore used by tests and
// single-node development runs. It mirrors the Redis implementation's
// semantics, including empty-room cleanup and chat trimming.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

type roomRecord struct {
	teacherName string
	createdAt   time.Time
	instanceID  string
	instanceIP  string
	caps        *domain.RTPCapabilities
	users       map[domain.UserID]domain.StoredUser
	messages    []domain.ChatMessage
}

type Store struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomRecord
}

var _ core.RoomStore = (*Store)(nil)

func New() *Store {
	return &Store{rooms: make(map[domain.RoomID]*roomRecord)}
}

func (s *Store) CreateRoom(_ context.Context, id domain.RoomID, teacherName, instanceID, instanceIP string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; ok {
		return false, nil
	}
	s.rooms[id] = &roomRecord{
		teacherName: teacherName,
		createdAt:   time.Now(),
		instanceID:  instanceID,
		instanceIP:  instanceIP,
		users:       make(map[domain.UserID]domain.StoredUser),
	}
	return true, nil
}

func (s *Store) RoomExists(_ context.Context, id domain.RoomID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok, nil
}

func (s *Store) DeleteRoom(_ context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *Store) RoomIDs(_ context.Context) ([]domain.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids, nil
}

// ensureLocked keeps user/chat writes working for rooms joined through
// signaling before any REST creation, same as the Redis hash semantics.
func (s *Store) ensureLocked(id domain.RoomID) *roomRecord {
	r, ok := s.rooms[id]
	if !ok {
		r = &roomRecord{users: make(map[domain.UserID]domain.StoredUser), createdAt: time.Now()}
		s.rooms[id] = r
	}
	return r
}

func (s *Store) AddUser(_ context.Context, id domain.RoomID, userID domain.UserID, u domain.StoredUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(id).users[userID] = u
	return nil
}

func (s *Store) RemoveUser(_ context.Context, id domain.RoomID, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil
	}
	delete(r.users, userID)
	if len(r.users) == 0 {
		delete(s.rooms, id)
	}
	return nil
}

func (s *Store) Users(_ context.Context, id domain.RoomID) ([]domain.RoomUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	users := make([]domain.RoomUser, 0, len(r.users))
	for uid, u := range r.users {
		users = append(users, domain.RoomUser{ID: uid, Name: u.Name, IsTeacher: u.IsTeacher})
	}
	return users, nil
}

func (s *Store) UserCount(_ context.Context, id domain.RoomID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return 0, nil
	}
	return int64(len(r.users)), nil
}

func (s *Store) AppendChat(_ context.Context, id domain.RoomID, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureLocked(id)
	r.messages = append(r.messages, msg)
	if len(r.messages) > domain.MaxChatHistory {
		r.messages = r.messages[len(r.messages)-domain.MaxChatHistory:]
	}
	return nil
}

func (s *Store) RecentChat(_ context.Context, id domain.RoomID, limit int64) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	msgs := r.messages
	if int64(len(msgs)) > limit {
		msgs = msgs[int64(len(msgs))-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Store) SetRouterCapabilities(_ context.Context, id domain.RoomID, caps domain.RTPCapabilities) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.ensureLocked(id)
	c := caps
	r.caps = &c
	return nil
}

func (s *Store) RouterCapabilities(_ context.Context, id domain.RoomID) (domain.RTPCapabilities, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok || r.caps == nil {
		return domain.RTPCapabilities{}, false, nil
	}
	return *r.caps, true, nil
}

func (s *Store) SetInstanceID(_ context.Context, id domain.RoomID, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(id).instanceID = instanceID
	return nil
}

func (s *Store) SetInstanceIP(_ context.Context, id domain.RoomID, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(id).instanceIP = ip
	return nil
}

func (s *Store) Instance(_ context.Context, id domain.RoomID) (domain.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return domain.Instance{}, nil
	}
	return domain.Instance{ID: r.instanceID, PublicIP: r.instanceIP}, nil
}

func (s *Store) ClearInstance(_ context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok {
		r.instanceID = ""
		r.instanceIP = ""
	}
	return nil
}
