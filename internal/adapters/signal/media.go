package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

// roomFor resolves which room a media message targets: the joined room,
// or an explicit roomId for pre-join capability queries.
func (s *session) roomFor(payloadRoom domain.RoomID) domain.RoomID {
	if payloadRoom != "" {
		return payloadRoom
	}
	return s.roomID
}

func (s *session) handleGetRouterRtpCapabilities(ctx context.Context, data []byte) {
	var p struct {
		RoomID domain.RoomID `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	roomID := s.roomFor(p.RoomID)

	reply := func(caps domain.RTPCapabilities) {
		s.ctl.sendJSON(s.conn, struct {
			Type string                 `json:"type"`
			Data domain.RTPCapabilities `json:"data"`
		}{
			Type: "routerRtpCapabilities",
			Data: caps,
		})
	}

	// Local router first, then the store for rooms hosted elsewhere.
	if caps, ok := s.ctl.Media.Capabilities(roomID); ok {
		reply(caps)
		return
	}
	caps, ok, err := s.ctl.Store.RouterCapabilities(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("capability read")
		s.ctl.sendError(s.conn, core.ErrNoRouter)
		return
	}
	if !ok {
		s.ctl.sendError(s.conn, core.ErrNoRouter)
		return
	}
	reply(caps)
}

func (s *session) handleCreateProducerTransport(ctx context.Context) {
	if !s.isTeacher {
		s.ctl.sendError(s.conn, core.ErrTeacherOnly)
		return
	}
	if !s.joined {
		s.ctl.sendError(s.conn, core.ErrNotJoined)
		return
	}
	transport, err := s.ctl.Media.CreateTransport(ctx, s.roomID)
	if err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	s.producerTransport = transport
	transport.OnDTLSStateChange(func(state webrtc.DTLSTransportState) {
		if state == webrtc.DTLSTransportStateClosed {
			transport.Close()
		}
	})
	s.ctl.sendJSON(s.conn, struct {
		Type string               `json:"type"`
		Data core.TransportParams `json:"data"`
	}{
		Type: "producerTransportCreated",
		Data: transport.Params(),
	})
}

func (s *session) handleConnectProducerTransport(ctx context.Context, data []byte) {
	if s.producerTransport == nil {
		s.ctl.sendError(s.conn, core.ErrTransportNotFound)
		return
	}
	var p core.ConnectParams
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	if err := s.producerTransport.Connect(ctx, p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	s.ctl.sendJSON(s.conn, struct {
		Type string `json:"type"`
	}{Type: "producerTransportConnected"})
}

func (s *session) handleProduce(ctx context.Context, data []byte) {
	var p struct {
		Kind          domain.MediaKind `json:"kind"`
		RTPParameters json.RawMessage  `json:"rtpParameters"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	if !s.isTeacher {
		s.ctl.sendError(s.conn, core.ErrTeacherOnly)
		return
	}
	if s.producerTransport == nil {
		s.ctl.sendError(s.conn, core.ErrTransportNotFound)
		return
	}

	producer, err := s.ctl.Media.Produce(ctx, s.roomID, s.producerTransport, p.Kind, p.RTPParameters)
	if err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}

	s.ctl.sendJSON(s.conn, struct {
		Type string `json:"type"`
		Data struct {
			ID   string           `json:"id"`
			Kind domain.MediaKind `json:"kind"`
		} `json:"data"`
	}{
		Type: "produced",
		Data: struct {
			ID   string           `json:"id"`
			Kind domain.MediaKind `json:"kind"`
		}{ID: producer.ID(), Kind: producer.Kind()},
	})

	// Everyone else learns about the new stream; the producing teacher
	// already has its reply.
	s.ctl.broadcastRoom(s.roomID, struct {
		Type        string           `json:"type"`
		ProducerID  string           `json:"producerId"`
		Kind        domain.MediaKind `json:"kind"`
		TeacherID   domain.UserID    `json:"teacherId"`
		TeacherName string           `json:"teacherName"`
	}{
		Type:        "newProducer",
		ProducerID:  producer.ID(),
		Kind:        producer.Kind(),
		TeacherID:   s.userID,
		TeacherName: s.name,
	}, s.userID)
}

func (s *session) handleGetActiveProducers(data []byte) {
	var p struct {
		RoomID domain.RoomID `json:"roomId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	roomID := s.roomFor(p.RoomID)

	type producerView struct {
		ID          string           `json:"id"`
		Kind        domain.MediaKind `json:"kind"`
		TeacherID   domain.UserID    `json:"teacherId"`
		TeacherName string           `json:"teacherName"`
	}
	teacherID, teacherName, _ := s.ctl.Registry.Teacher(roomID)
	infos := s.ctl.Media.ActiveProducers(roomID)
	producers := make([]producerView, 0, len(infos))
	for _, info := range infos {
		producers = append(producers, producerView{
			ID:          info.ID,
			Kind:        info.Kind,
			TeacherID:   teacherID,
			TeacherName: teacherName,
		})
	}
	s.ctl.sendJSON(s.conn, struct {
		Type      string         `json:"type"`
		Producers []producerView `json:"producers"`
	}{
		Type:      "activeProducers",
		Producers: producers,
	})
}

func (s *session) handleCreateConsumerTransport(ctx context.Context, data []byte) {
	var p struct {
		TransportID string `json:"transportId"`
		ProducerID  string `json:"producerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	if !s.joined {
		s.ctl.sendError(s.conn, core.ErrNotJoined)
		return
	}

	transport, err := s.ctl.Media.CreateTransport(ctx, s.roomID)
	if err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	transportID := p.TransportID
	s.consumerTransports[transportID] = transport
	transport.OnDTLSStateChange(func(state webrtc.DTLSTransportState) {
		if state == webrtc.DTLSTransportStateClosed {
			transport.Close()
		}
	})

	s.ctl.sendJSON(s.conn, struct {
		Type string `json:"type"`
		Data struct {
			TransportID string               `json:"transportId"`
			Params      core.TransportParams `json:"params"`
		} `json:"data"`
		ProducerID string `json:"producerId,omitempty"`
	}{
		Type: "consumerTransportCreated",
		Data: struct {
			TransportID string               `json:"transportId"`
			Params      core.TransportParams `json:"params"`
		}{TransportID: transportID, Params: transport.Params()},
		ProducerID: p.ProducerID,
	})
}

func (s *session) handleConnectConsumerTransport(ctx context.Context, data []byte) {
	var p struct {
		TransportID string `json:"transportId"`
		ProducerID  string `json:"producerId"`
		core.ConnectParams
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	transport, ok := s.consumerTransports[p.TransportID]
	if !ok {
		s.ctl.sendError(s.conn, core.ErrTransportNotFound)
		return
	}
	if err := transport.Connect(ctx, p.ConnectParams); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	s.ctl.sendJSON(s.conn, struct {
		Type        string `json:"type"`
		TransportID string `json:"transportId"`
		ProducerID  string `json:"producerId,omitempty"`
	}{
		Type:        "consumerTransportConnected",
		TransportID: p.TransportID,
		ProducerID:  p.ProducerID,
	})
}

func (s *session) handleConsume(ctx context.Context, data []byte) {
	var p struct {
		TransportID     string                 `json:"transportId"`
		ProducerID      string                 `json:"producerId"`
		RTPCapabilities domain.RTPCapabilities `json:"rtpCapabilities"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	if !s.ctl.Media.HasRouter(s.roomID) {
		s.ctl.sendError(s.conn, core.ErrRoomNotFound)
		return
	}
	transport, ok := s.consumerTransports[p.TransportID]
	if !ok {
		s.ctl.sendError(s.conn, core.ErrTransportNotFound)
		return
	}

	conn := s.conn
	consumer, err := s.ctl.Media.Consume(ctx, s.roomID, transport, p.ProducerID, p.RTPCapabilities,
		func(consumerID string, kind domain.MediaKind) {
			// One notification per consumer so the client can renegotiate.
			s.ctl.sendJSON(conn, struct {
				Type       string           `json:"type"`
				ConsumerID string           `json:"consumerId"`
				Kind       domain.MediaKind `json:"kind"`
			}{
				Type:       "producerClosed",
				ConsumerID: consumerID,
				Kind:       kind,
			})
		})
	if err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	s.consumersByTransport[p.TransportID] = append(s.consumersByTransport[p.TransportID], consumer.ID())

	s.ctl.sendJSON(s.conn, struct {
		Type string `json:"type"`
		Data struct {
			TransportID   string           `json:"transportId"`
			ConsumerID    string           `json:"consumerId"`
			ProducerID    string           `json:"producerId"`
			Kind          domain.MediaKind `json:"kind"`
			RTPParameters json.RawMessage  `json:"rtpParameters"`
		} `json:"data"`
	}{
		Type: "consumed",
		Data: struct {
			TransportID   string           `json:"transportId"`
			ConsumerID    string           `json:"consumerId"`
			ProducerID    string           `json:"producerId"`
			Kind          domain.MediaKind `json:"kind"`
			RTPParameters json.RawMessage  `json:"rtpParameters"`
		}{
			TransportID:   p.TransportID,
			ConsumerID:    consumer.ID(),
			ProducerID:    p.ProducerID,
			Kind:          consumer.Kind(),
			RTPParameters: consumer.RTPParameters(),
		},
	})
}

func (s *session) handleResumeConsumer(data []byte) {
	var p struct {
		ConsumerID string `json:"consumerId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	if err := s.ctl.Media.ResumeConsumer(s.roomID, p.ConsumerID); err != nil {
		s.ctl.sendError(s.conn, err)
		return
	}
	s.ctl.sendJSON(s.conn, struct {
		Type       string `json:"type"`
		ConsumerID string `json:"consumerId"`
	}{
		Type:       "consumerResumed",
		ConsumerID: p.ConsumerID,
	})
}
