package rtc

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// sinkState is the forwarding mode of one consumer's outgoing track.
type sinkState int32

const (
	sinkForwarding sinkState = iota
	sinkPaused
	sinkClosed
)

// OutTrack couples a consumer's local track with its forwarding mode.
// The relay loop reads the mode on every packet while connection
// handlers flip it, so it is atomic.
type OutTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func NewOutTrack(track *webrtc.TrackLocalStaticRTP) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) State() sinkState {
	return sinkState(ot.state.Load())
}

// Forward lets packets flow to the consumer.
func (ot *OutTrack) Forward() {
	ot.state.Store(int32(sinkForwarding))
}

// Pause keeps the track attached but forwards nothing.
func (ot *OutTrack) Pause() {
	ot.state.Store(int32(sinkPaused))
}

// Shutdown marks the track for removal; the relay drops it on the next
// packet.
func (ot *OutTrack) Shutdown() {
	ot.state.Store(int32(sinkClosed))
}
