package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

var errForeignProducer = errors.New("producer does not belong to this engine")

// Transport is a negotiated network channel built from ORTC primitives:
// one ICE gatherer/transport pair and a DTLS transport on top.
type Transport struct {
	id       string
	router   *Router
	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   core.TransportParams

	mu     sync.Mutex
	closed bool
}

var _ core.MediaTransport = (*Transport)(nil)

func newTransport(ctx context.Context, router *Router, announcedIP string) (*Transport, error) {
	se := webrtc.SettingEngine{}
	if announcedIP != "" && announcedIP != "127.0.0.1" {
		se.SetNAT1To1IPs([]string{announcedIP}, webrtc.ICECandidateTypeHost)
	}
	me, err := buildMediaEngine(router.codecs)
	if err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se))

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, err
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, err
	}

	var candidates []webrtc.ICECandidate
	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
			return
		}
		candidates = append(candidates, *c)
	})
	if err := gatherer.Gather(); err != nil {
		return nil, err
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, err
	}

	t := &Transport{
		id:       uuid.NewString(),
		router:   router,
		api:      api,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}
	t.params = core.TransportParams{
		ID:             t.id,
		ICEParameters:  iceParams,
		ICECandidates:  candidates,
		DTLSParameters: dtlsParams,
	}
	return t, nil
}

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) Params() core.TransportParams {
	return t.params
}

// Connect completes the handshake with the client's remote parameters.
// The server side is always the controlled ICE agent.
func (t *Transport) Connect(ctx context.Context, params core.ConnectParams) error {
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, params.ICEParameters, &role); err != nil {
		return err
	}
	return t.dtls.Start(params.DTLSParameters)
}

func (t *Transport) OnDTLSStateChange(f func(webrtc.DTLSTransportState)) {
	t.dtls.OnStateChange(f)
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.dtls.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("gatherer close")
	}
}

// produceParameters is the subset of the client's rtpParameters the
// engine needs; everything else stays opaque.
type produceParameters struct {
	Codecs []struct {
		MimeType    string `json:"mimeType"`
		PayloadType uint8  `json:"payloadType"`
	} `json:"codecs"`
	Encodings []struct {
		SSRC uint32 `json:"ssrc"`
	} `json:"encodings"`
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (core.MediaProducer, error) {
	var params produceParameters
	if len(rtpParameters) > 0 {
		if err := json.Unmarshal(rtpParameters, &params); err != nil {
			return nil, err
		}
	}
	mimeType := ""
	if len(params.Codecs) > 0 {
		mimeType = params.Codecs[0].MimeType
	}
	codec, payloadType, ok := t.router.codecFor(kind, mimeType)
	if !ok {
		return nil, core.ErrCannotConsume
	}
	if len(params.Codecs) > 0 && params.Codecs[0].PayloadType != 0 {
		payloadType = webrtc.PayloadType(params.Codecs[0].PayloadType)
	}

	codecType := webrtc.RTPCodecTypeAudio
	if kind == domain.MediaVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}
	receiver, err := t.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, err
	}

	var ssrc webrtc.SSRC
	if len(params.Encodings) > 0 {
		ssrc = webrtc.SSRC(params.Encodings[0].SSRC)
	}
	recvParams := webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        ssrc,
				PayloadType: payloadType,
			},
		}},
	}
	if err := receiver.Receive(recvParams); err != nil {
		return nil, err
	}

	p := newProducer(kind, codec, receiver)
	log.Info().Str("module", "rtc").Str("transport", t.id).Str("producer", p.id).Str("kind", string(kind)).Msg("producer created")
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producer core.MediaProducer, caps domain.RTPCapabilities) (core.MediaConsumer, error) {
	p, ok := producer.(*Producer)
	if !ok {
		return nil, errForeignProducer
	}
	track, err := webrtc.NewTrackLocalStaticRTP(p.codec, uuid.NewString(), "classroom")
	if err != nil {
		return nil, err
	}
	sender, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}
	if err := sender.Send(sender.GetParameters()); err != nil {
		return nil, err
	}

	c := newConsumer(p, track, sender)
	p.relay.AddOutTrack(c.id, c.out)
	log.Info().Str("module", "rtc").Str("transport", t.id).Str("consumer", c.id).Str("producer", p.id).Msg("consumer created")
	return c, nil
}
