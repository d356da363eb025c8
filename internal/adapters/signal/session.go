package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

// session is the per-connection protocol state machine. It exclusively
// owns the connection's transient media resources (producer transport,
// consumer transports) so teardown on disconnect is atomic.
type session struct {
	ctl  *Controller
	conn core.SignalConnection

	userID    domain.UserID
	roomID    domain.RoomID
	name      string
	isTeacher bool
	joined    bool

	producerTransport    core.MediaTransport
	consumerTransports   map[string]core.MediaTransport
	consumersByTransport map[string][]string
}

func newSession(ctl *Controller, conn core.SignalConnection) *session {
	return &session{
		ctl:                  ctl,
		conn:                 conn,
		consumerTransports:   make(map[string]core.MediaTransport),
		consumersByTransport: make(map[string][]string),
	}
}

// close runs the full teardown: membership first so broadcasts reflect
// the departure, then every media resource this connection owns.
func (s *session) close(ctx context.Context) {
	if s.joined {
		s.joined = false
		name, remaining, ok := s.ctl.Registry.Remove(s.roomID, s.userID)
		if err := s.ctl.Store.RemoveUser(ctx, s.roomID, s.userID); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", string(s.roomID)).Str("user", string(s.userID)).Msg("store remove failed")
		}
		if ok {
			s.ctl.broadcastRoom(s.roomID, struct {
				Type   string        `json:"type"`
				UserID domain.UserID `json:"userId"`
				Name   string        `json:"name"`
			}{
				Type:   "user-left",
				UserID: s.userID,
				Name:   name,
			})
		}
		if remaining == 0 {
			s.ctl.Media.ReleaseRoom(s.roomID)
		}
	}

	if s.producerTransport != nil {
		s.producerTransport.Close()
		s.producerTransport = nil
	}
	for id, t := range s.consumerTransports {
		s.dropTransportConsumers(id)
		t.Close()
		delete(s.consumerTransports, id)
	}
	log.Info().Str("module", "signal").Str("user", string(s.userID)).Msg("session closed")
}

// dropTransportConsumers forgets every consumer created on the named
// transport; the transport teardown stops their senders.
func (s *session) dropTransportConsumers(transportID string) {
	for _, cid := range s.consumersByTransport[transportID] {
		s.ctl.Media.DropConsumer(s.roomID, cid)
	}
	delete(s.consumersByTransport, transportID)
}
