package core

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/edustream/classroom/internal/domain"
)

// TransportParams is what a client needs to complete the transport
// handshake: local ICE/DTLS parameters and the gathered candidates
// announced at the room's public address.
type TransportParams struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ConnectParams carries the remote half of the handshake.
type ConnectParams struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// MediaEngine creates workers. One engine exists per process.
type MediaEngine interface {
	NewWorker() (MediaWorker, error)
}

// MediaWorker is a pooled media-processing handle. Workers live for the
// whole process; load accounting is the resource manager's job.
type MediaWorker interface {
	NewRouter(codecs []domain.RTPCodecCapability) (MediaRouter, error)
}

// MediaRouter is the per-room forwarding context. It owns no transport
// lifecycle; transports belong to the connection that created them.
type MediaRouter interface {
	Capabilities() domain.RTPCapabilities
	// CanConsume reports whether caps are compatible with the producer.
	CanConsume(producer MediaProducer, caps domain.RTPCapabilities) bool
	// NewTransport creates a negotiated channel announced at announcedIP.
	NewTransport(ctx context.Context, announcedIP string) (MediaTransport, error)
	Close()
}

type MediaTransport interface {
	ID() string
	Params() TransportParams
	Connect(ctx context.Context, params ConnectParams) error
	// Produce starts receiving a media source of the given kind.
	Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (MediaProducer, error)
	// Consume attaches a paused playback endpoint for the producer.
	Consume(ctx context.Context, producer MediaProducer, caps domain.RTPCapabilities) (MediaConsumer, error)
	// OnDTLSStateChange subscribes to transport state transitions.
	OnDTLSStateChange(func(webrtc.DTLSTransportState))
	Close()
}

type MediaProducer interface {
	ID() string
	Kind() domain.MediaKind
	// OnClose fires once when the producer stops, whatever the cause.
	OnClose(func())
	Close()
}

type MediaConsumer interface {
	ID() string
	Kind() domain.MediaKind
	ProducerID() string
	// RTPParameters is the send parameterization the client consumes with.
	RTPParameters() json.RawMessage
	// Resume starts media flow; consumers are created paused.
	Resume() error
	Close()
}
