// Package rtc implements the media engine on pion/webrtc using the ORTC
// API, so transports hand out explicit ICE/DTLS parameters the way the
// signaling protocol expects.
package rtc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

type Engine struct{}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewWorker() (core.MediaWorker, error) {
	return &Worker{}, nil
}

// Worker is a pooled forwarding unit. With pion the engine runs
// in-process, so a worker carries no state of its own; the resource
// manager still balances routers across the pool.
type Worker struct{}

func (w *Worker) NewRouter(codecs []domain.RTPCodecCapability) (core.MediaRouter, error) {
	caps := domain.RTPCapabilities{Codecs: append([]domain.RTPCodecCapability(nil), codecs...)}
	return &Router{codecs: codecs, caps: caps}, nil
}

// Router is the per-room forwarding context. Each transport gets its
// own webrtc.API because the announced address binds to the setting
// engine at construction time.
type Router struct {
	codecs []domain.RTPCodecCapability
	caps   domain.RTPCapabilities
}

func (r *Router) Capabilities() domain.RTPCapabilities {
	return r.caps
}

// CanConsume checks that the caller advertises the producer's codec.
func (r *Router) CanConsume(producer core.MediaProducer, caps domain.RTPCapabilities) bool {
	p, ok := producer.(*Producer)
	if !ok {
		return false
	}
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, p.codec.MimeType) && c.ClockRate == p.codec.ClockRate {
			return true
		}
	}
	return false
}

func (r *Router) NewTransport(ctx context.Context, announcedIP string) (core.MediaTransport, error) {
	return newTransport(ctx, r, announcedIP)
}

func (r *Router) Close() {}

// codecFor picks the router codec a producer of the given kind uses,
// preferring the mime type the client signaled in its parameters.
func (r *Router) codecFor(kind domain.MediaKind, mimeType string) (webrtc.RTPCodecCapability, webrtc.PayloadType, bool) {
	var fallback *domain.RTPCodecCapability
	for i, c := range r.codecs {
		if c.Kind != kind {
			continue
		}
		if fallback == nil {
			fallback = &r.codecs[i]
		}
		if mimeType != "" && strings.EqualFold(c.MimeType, mimeType) {
			return toPionCapability(c), payloadTypeFor(c.MimeType), true
		}
	}
	if fallback == nil {
		return webrtc.RTPCodecCapability{}, 0, false
	}
	return toPionCapability(*fallback), payloadTypeFor(fallback.MimeType), true
}

func toPionCapability(c domain.RTPCodecCapability) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: fmtpLine(c.Parameters),
	}
}

// fmtpLine renders codec parameters deterministically, sorted by key.
func fmtpLine(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(parts, ";")
}

// Static payload type assignment shared with the capability descriptor.
func payloadTypeFor(mimeType string) webrtc.PayloadType {
	switch strings.ToLower(mimeType) {
	case "audio/opus":
		return 111
	case "video/vp8":
		return 96
	case "video/h264":
		return 102
	default:
		return 96
	}
}

func buildMediaEngine(codecs []domain.RTPCodecCapability) (*webrtc.MediaEngine, error) {
	me := &webrtc.MediaEngine{}
	for _, c := range codecs {
		kind := webrtc.RTPCodecTypeAudio
		if c.Kind == domain.MediaVideo {
			kind = webrtc.RTPCodecTypeVideo
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: toPionCapability(c),
			PayloadType:        payloadTypeFor(c.MimeType),
		}
		if err := me.RegisterCodec(params, kind); err != nil {
			return nil, err
		}
	}
	return me, nil
}
