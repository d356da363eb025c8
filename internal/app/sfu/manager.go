// Package sfu manages the per-process media resource graph: the worker
// pool, one router per room, and every producer and consumer a room owns.
package sfu

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

type workerSlot struct {
	worker core.MediaWorker
	load   int
}

type producerEntry struct {
	producer core.MediaProducer
}

type consumerEntry struct {
	consumer   core.MediaConsumer
	producerID string
	// onProducerClosed notifies the owning connection exactly once when
	// the producer goes away and this consumer is cascaded closed.
	onProducerClosed func(consumerID string, kind domain.MediaKind)
}

type roomMedia struct {
	router    core.MediaRouter
	slot      *workerSlot
	producers map[string]*producerEntry
	byKind    map[domain.MediaKind]*producerEntry
	consumers map[string]*consumerEntry
}

// ProducerInfo is the listing shape for getActiveProducers.
type ProducerInfo struct {
	ID   string
	Kind domain.MediaKind
}

// Manager owns the room→router association and enforces the media
// invariants: one router per room, one live producer per (room, kind),
// consumers bound to an existing compatible producer.
type Manager struct {
	engine core.MediaEngine
	store  core.RoomStore
	codecs []domain.RTPCodecCapability

	mu      sync.Mutex
	workers []*workerSlot
	rooms   map[domain.RoomID]*roomMedia
}

// NewManager boots the worker pool. A pool that cannot start is fatal
// for the process; callers should not continue without media.
func NewManager(engine core.MediaEngine, store core.RoomStore, numWorkers int) (*Manager, error) {
	m := &Manager{
		engine: engine,
		store:  store,
		codecs: domain.DefaultCodecs(),
		rooms:  make(map[domain.RoomID]*roomMedia),
	}
	for i := 0; i < numWorkers; i++ {
		w, err := engine.NewWorker()
		if err != nil {
			return nil, err
		}
		m.workers = append(m.workers, &workerSlot{worker: w})
		log.Info().Str("module", "sfu").Int("worker", i+1).Int("total", numWorkers).Msg("media worker initialized")
	}
	return m, nil
}

func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// leastLoadedLocked picks the worker with the lowest router count,
// ties broken by pool order, and charges it one unit of load.
func (m *Manager) leastLoadedLocked() *workerSlot {
	selected := m.workers[0]
	for _, slot := range m.workers[1:] {
		if slot.load < selected.load {
			selected = slot
		}
	}
	selected.load++
	return selected
}

// EnsureRouter creates the room's router if it does not exist yet.
// First writer wins: concurrent teacher joins observe the same router.
// The capability descriptor is persisted before return so other
// instances can answer capability queries without a live router.
func (m *Manager) EnsureRouter(ctx context.Context, roomID domain.RoomID) (created bool, err error) {
	m.mu.Lock()
	if _, ok := m.rooms[roomID]; ok {
		m.mu.Unlock()
		return false, nil
	}
	slot := m.leastLoadedLocked()
	router, err := slot.worker.NewRouter(m.codecs)
	if err != nil {
		slot.load--
		m.mu.Unlock()
		return false, err
	}
	m.rooms[roomID] = &roomMedia{
		router:    router,
		slot:      slot,
		producers: make(map[string]*producerEntry),
		byKind:    make(map[domain.MediaKind]*producerEntry),
		consumers: make(map[string]*consumerEntry),
	}
	caps := router.Capabilities()
	m.mu.Unlock()

	if err := m.store.SetRouterCapabilities(ctx, roomID, caps); err != nil {
		// A router whose descriptor other instances cannot read is
		// useless; roll the registration back so a later join retries.
		m.mu.Lock()
		if cur, ok := m.rooms[roomID]; ok && cur.router == router {
			delete(m.rooms, roomID)
			slot.load--
			router.Close()
		}
		m.mu.Unlock()
		return false, err
	}
	log.Info().Str("module", "sfu").Str("room", string(roomID)).Msg("router created")
	return true, nil
}

func (m *Manager) HasRouter(roomID domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomID]
	return ok
}

// Capabilities returns the local router's descriptor, if this instance
// hosts the room's router.
func (m *Manager) Capabilities(roomID domain.RoomID) (domain.RTPCapabilities, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return domain.RTPCapabilities{}, false
	}
	return room.router.Capabilities(), true
}

// CreateTransport makes a transport on the room's router, announced at
// the room's recorded public address (loopback when absent).
func (m *Manager) CreateTransport(ctx context.Context, roomID domain.RoomID) (core.MediaTransport, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	m.mu.Unlock()
	if !ok {
		return nil, core.ErrNoRouter
	}

	announced := "127.0.0.1"
	if inst, err := m.store.Instance(ctx, roomID); err == nil && inst.PublicIP != "" {
		announced = inst.PublicIP
	}
	transport, err := room.router.NewTransport(ctx, announced)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "sfu").Str("room", string(roomID)).Str("transport", transport.ID()).Str("announced", announced).Msg("transport created")
	return transport, nil
}

// Produce creates a producer of the given kind on the transport. Any
// live producer of the same kind is closed first, cascading to its
// consumers, so at most one producer per (room, kind) exists.
func (m *Manager) Produce(ctx context.Context, roomID domain.RoomID, transport core.MediaTransport, kind domain.MediaKind, rtpParameters json.RawMessage) (core.MediaProducer, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return nil, core.ErrNoRouter
	}
	if prev, ok := room.byKind[kind]; ok {
		log.Info().Str("module", "sfu").Str("room", string(roomID)).Str("kind", string(kind)).Str("producer", prev.producer.ID()).Msg("replacing producer")
		m.closeProducerLocked(room, prev)
	}
	m.mu.Unlock()

	producer, err := transport.Produce(ctx, kind, rtpParameters)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	// Re-check after the suspension: a racing produce of the same kind
	// may have registered while ours was being created. Last writer wins.
	if prev, ok := room.byKind[kind]; ok {
		m.closeProducerLocked(room, prev)
	}
	entry := &producerEntry{producer: producer}
	room.producers[producer.ID()] = entry
	room.byKind[kind] = entry
	m.mu.Unlock()

	// Transport teardown closes the producer underneath us; keep the
	// maps and dependent consumers in sync.
	producer.OnClose(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := room.producers[producer.ID()]; ok {
			m.dropProducerLocked(room, cur)
		}
	})
	return producer, nil
}

// closeProducerLocked closes the producer and cascades to every
// dependent consumer, notifying each owning connection once.
func (m *Manager) closeProducerLocked(room *roomMedia, entry *producerEntry) {
	entry.producer.Close()
	m.dropProducerLocked(room, entry)
}

func (m *Manager) dropProducerLocked(room *roomMedia, entry *producerEntry) {
	id := entry.producer.ID()
	delete(room.producers, id)
	if cur, ok := room.byKind[entry.producer.Kind()]; ok && cur == entry {
		delete(room.byKind, entry.producer.Kind())
	}
	for cid, ce := range room.consumers {
		if ce.producerID != id {
			continue
		}
		ce.consumer.Close()
		delete(room.consumers, cid)
		if ce.onProducerClosed != nil {
			notify := ce.onProducerClosed
			kind := ce.consumer.Kind()
			// Never deliver under the manager lock.
			go notify(cid, kind)
		}
	}
}

// ActiveProducers lists live producers, or nothing when no router exists.
func (m *Manager) ActiveProducers(roomID domain.RoomID) []ProducerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]ProducerInfo, 0, len(room.producers))
	for id, entry := range room.producers {
		out = append(out, ProducerInfo{ID: id, Kind: entry.producer.Kind()})
	}
	return out
}

// Consume validates room, producer, and capability compatibility, then
// creates a paused consumer on the transport. onProducerClosed is
// delivered exactly once if the producer closes while the consumer lives.
func (m *Manager) Consume(ctx context.Context, roomID domain.RoomID, transport core.MediaTransport, producerID string, caps domain.RTPCapabilities, onProducerClosed func(consumerID string, kind domain.MediaKind)) (core.MediaConsumer, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return nil, core.ErrRoomNotFound
	}
	entry, ok := room.producers[producerID]
	if !ok {
		m.mu.Unlock()
		return nil, core.ErrProducerNotFound
	}
	router := room.router
	producer := entry.producer
	m.mu.Unlock()

	if !router.CanConsume(producer, caps) {
		return nil, core.ErrCannotConsume
	}
	consumer, err := transport.Consume(ctx, producer, caps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	room.consumers[consumer.ID()] = &consumerEntry{
		consumer:         consumer,
		producerID:       producerID,
		onProducerClosed: onProducerClosed,
	}
	m.mu.Unlock()
	log.Info().Str("module", "sfu").Str("room", string(roomID)).Str("consumer", consumer.ID()).Str("producer", producerID).Msg("consumer created")
	return consumer, nil
}

// ResumeConsumer starts a paused consumer.
func (m *Manager) ResumeConsumer(roomID domain.RoomID, consumerID string) error {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return core.ErrConsumerNotFound
	}
	entry, ok := room.consumers[consumerID]
	m.mu.Unlock()
	if !ok {
		return core.ErrConsumerNotFound
	}
	return entry.consumer.Resume()
}

// DropConsumer forgets a consumer whose transport closed underneath it.
func (m *Manager) DropConsumer(roomID domain.RoomID, consumerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	if entry, ok := room.consumers[consumerID]; ok {
		entry.consumer.Close()
		delete(room.consumers, consumerID)
	}
}

// ReleaseRoom tears down the room's router and everything it owns.
// Called when the last local member disconnects.
func (m *Manager) ReleaseRoom(roomID domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return
	}
	for _, entry := range room.producers {
		entry.producer.Close()
	}
	for _, entry := range room.consumers {
		entry.consumer.Close()
	}
	room.router.Close()
	room.slot.load--
	delete(m.rooms, roomID)
	log.Info().Str("module", "sfu").Str("room", string(roomID)).Msg("router released")
}
