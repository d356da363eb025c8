package rtc

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Relay reads RTP packets from one producer's remote track and forwards
// them to every consumer's out track.
type Relay struct {
	src *webrtc.TrackRemote

	mu        sync.RWMutex
	outTracks map[string]*OutTrack
}

func NewRelay(src *webrtc.TrackRemote) *Relay {
	return &Relay{
		src:       src,
		outTracks: make(map[string]*OutTrack),
	}
}

func (r *Relay) AddOutTrack(consumerID string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

// loop reads from the source track until it errors or ctx ends.
func (r *Relay) loop(ctx context.Context, producerID string) {
	logger := log.With().Str("module", "rtc.relay").Str("producer", producerID).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, &logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[string]*OutTrack, len(r.outTracks))
	r.mu.RLock()
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for consumerID, ot := range snapshot {
		switch ot.State() {
		case sinkClosed:
			dirty = append(dirty, consumerID)
		case sinkPaused:
			// paused consumer, keep reading but forward nothing
		case sinkForwarding:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", consumerID).Msg("relay write error, dropping out track")
				ot.Shutdown()
				dirty = append(dirty, consumerID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		delete(r.outTracks, id)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.Shutdown()
	}
}
