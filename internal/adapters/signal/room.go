package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

var errAlreadyJoined = errors.New("already joined a room")

func (s *session) handleJoin(ctx context.Context, data []byte) {
	var p struct {
		UserID    domain.UserID `json:"userId"`
		RoomID    domain.RoomID `json:"roomId"`
		IsTeacher bool          `json:"isTeacher"`
		Name      string        `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		s.ctl.sendError(s.conn, err)
		return
	}
	if s.joined {
		s.ctl.sendError(s.conn, errAlreadyJoined)
		return
	}
	if err := domain.ValidateName(p.Name); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}

	s.userID = p.UserID
	s.roomID = p.RoomID
	s.name = p.Name
	s.isTeacher = p.IsTeacher

	// The store is authoritative, so it is written first: a failed write
	// must leave no local registry entry behind.
	if err := s.ctl.Store.AddUser(ctx, p.RoomID, p.UserID, domain.StoredUser{
		Name:       p.Name,
		IsTeacher:  p.IsTeacher,
		InstanceID: s.ctl.InstanceID,
	}); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(p.RoomID)).Msg("store add user")
		s.ctl.sendError(s.conn, err)
		return
	}
	s.ctl.Registry.Add(p.RoomID, p.UserID, s.conn, p.Name, p.IsTeacher)
	s.joined = true

	// First teacher in brings up the room's router; EnsureRouter is
	// idempotent so a join race costs nothing.
	if p.IsTeacher && !s.ctl.Media.HasRouter(p.RoomID) {
		if _, err := s.ctl.Media.EnsureRouter(ctx, p.RoomID); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("room", string(p.RoomID)).Msg("router create")
			s.ctl.sendError(s.conn, err)
			return
		}
	}

	users, err := s.ctl.Store.Users(ctx, p.RoomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(p.RoomID)).Msg("user list read")
	}
	log.Info().Str("module", "signal").Str("room", string(p.RoomID)).Str("user", string(p.UserID)).Bool("teacher", p.IsTeacher).Msg("join")

	s.ctl.broadcastRoom(p.RoomID, struct {
		Type      string            `json:"type"`
		UserID    domain.UserID     `json:"userId"`
		Name      string            `json:"name"`
		IsTeacher bool              `json:"isTeacher"`
		Users     []domain.RoomUser `json:"users"`
	}{
		Type:      "user-joined",
		UserID:    p.UserID,
		Name:      p.Name,
		IsTeacher: p.IsTeacher,
		Users:     users,
	})

	// Late-joining students get the buffered backlog privately.
	if !p.IsTeacher {
		msgs, err := s.ctl.Store.RecentChat(ctx, p.RoomID, domain.RecentChatLimit)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", string(p.RoomID)).Msg("recent chat read")
			return
		}
		s.ctl.sendJSON(s.conn, struct {
			Type     string               `json:"type"`
			Messages []domain.ChatMessage `json:"messages"`
		}{
			Type:     "recent-messages",
			Messages: msgs,
		})
	}
}

func (s *session) handleChat(ctx context.Context, data []byte) {
	var p struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	if !s.joined {
		s.ctl.sendError(s.conn, core.ErrNotJoined)
		return
	}

	msg := domain.ChatMessage{
		UserID:    s.userID,
		Name:      s.name,
		IsTeacher: s.isTeacher,
		Message:   p.Message,
		Timestamp: time.Now().UnixMilli(),
	}
	// History goes to the store before anyone sees the broadcast, so a
	// sender's own follow-up reads are never stale.
	if err := s.ctl.Store.AppendChat(ctx, s.roomID, msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(s.roomID)).Msg("chat append")
		s.ctl.sendError(s.conn, err)
		return
	}

	s.ctl.broadcastRoom(s.roomID, struct {
		Type string `json:"type"`
		domain.ChatMessage
	}{
		Type:        "chat",
		ChatMessage: msg,
	})
}
