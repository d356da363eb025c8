package rtc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

// Producer is a published media source: an RTP receiver plus the relay
// loop that forwards its packets to every consumer's out track.
type Producer struct {
	id       string
	kind     domain.MediaKind
	codec    webrtc.RTPCodecCapability
	receiver *webrtc.RTPReceiver
	relay    *Relay
	cancel   context.CancelFunc

	mu      sync.Mutex
	closed  bool
	onClose []func()
}

var _ core.MediaProducer = (*Producer)(nil)

func newProducer(kind domain.MediaKind, codec webrtc.RTPCodecCapability, receiver *webrtc.RTPReceiver) *Producer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		id:       uuid.NewString(),
		kind:     kind,
		codec:    codec,
		receiver: receiver,
		relay:    NewRelay(receiver.Track()),
		cancel:   cancel,
	}
	go func() {
		p.relay.loop(ctx, p.id)
		// Read loop ending means the source is gone, however it ended.
		p.Close()
	}()
	return p
}

func (p *Producer) ID() string {
	return p.id
}

func (p *Producer) Kind() domain.MediaKind {
	return p.kind
}

func (p *Producer) OnClose(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		go f()
		return
	}
	p.onClose = append(p.onClose, f)
}

func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	callbacks := p.onClose
	p.onClose = nil
	p.mu.Unlock()

	p.cancel()
	p.relay.markAllDelete()
	if err := p.receiver.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("producer", p.id).Msg("receiver stop")
	}
	for _, f := range callbacks {
		f()
	}
	log.Info().Str("module", "rtc").Str("producer", p.id).Str("kind", string(p.kind)).Msg("producer closed")
}

// Consumer is one viewer's playback endpoint for a producer. It starts
// muted; Resume switches the out track to forwarding.
type Consumer struct {
	id         string
	kind       domain.MediaKind
	producerID string
	sender     *webrtc.RTPSender
	out        *OutTrack
	rtpParams  json.RawMessage

	mu     sync.Mutex
	closed bool
}

var _ core.MediaConsumer = (*Consumer)(nil)

func newConsumer(p *Producer, track *webrtc.TrackLocalStaticRTP, sender *webrtc.RTPSender) *Consumer {
	c := &Consumer{
		id:         uuid.NewString(),
		kind:       p.kind,
		producerID: p.id,
		sender:     sender,
		out:        NewOutTrack(track),
	}
	c.out.Pause() // created paused
	c.rtpParams = marshalSendParameters(p.codec, sender.GetParameters())
	return c
}

// marshalSendParameters renders the consumer's send parameterization in
// the wire shape clients feed to their media pipeline.
func marshalSendParameters(codec webrtc.RTPCodecCapability, params webrtc.RTPSendParameters) json.RawMessage {
	type wireCodec struct {
		MimeType    string `json:"mimeType"`
		PayloadType uint8  `json:"payloadType"`
		ClockRate   uint32 `json:"clockRate"`
		Channels    uint16 `json:"channels,omitempty"`
		SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
	}
	type wireEncoding struct {
		SSRC uint32 `json:"ssrc"`
	}
	out := struct {
		Codecs    []wireCodec    `json:"codecs"`
		Encodings []wireEncoding `json:"encodings"`
	}{
		Codecs: []wireCodec{{
			MimeType:    codec.MimeType,
			PayloadType: uint8(payloadTypeFor(codec.MimeType)),
			ClockRate:   codec.ClockRate,
			Channels:    codec.Channels,
			SDPFmtpLine: codec.SDPFmtpLine,
		}},
	}
	for _, enc := range params.Encodings {
		out.Encodings = append(out.Encodings, wireEncoding{SSRC: uint32(enc.SSRC)})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func (c *Consumer) ID() string {
	return c.id
}

func (c *Consumer) Kind() domain.MediaKind {
	return c.kind
}

func (c *Consumer) ProducerID() string {
	return c.producerID
}

func (c *Consumer) RTPParameters() json.RawMessage {
	return c.rtpParams
}

func (c *Consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConsumerNotFound
	}
	c.out.Forward()
	return nil
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.out.Shutdown()
	if err := c.sender.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("consumer", c.id).Msg("sender stop")
	}
}
