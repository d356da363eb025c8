// Package signal owns one WebSocket per client and drives the signaling
// protocol: each inbound message mutates the room registry and/or the
// SFU resource manager and emits a direct reply, a room broadcast, or both.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/edustream/classroom/internal/app"
	"github.com/edustream/classroom/internal/app/sfu"
	"github.com/edustream/classroom/internal/core"
	"github.com/edustream/classroom/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller wires every connection to the shared per-instance state.
type Controller struct {
	Registry   *app.Registry
	Store      core.RoomStore
	Media      *sfu.Manager
	InstanceID string
}

func NewController(registry *app.Registry, store core.RoomStore, media *sfu.Manager, instanceID string) *Controller {
	return &Controller{
		Registry:   registry,
		Store:      store,
		Media:      media,
		InstanceID: instanceID,
	}
}

// WSConn is the send side of one client connection.
type WSConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WSConn)(nil)

func (c *WSConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WSConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and starts the connection's pumps.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WSConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sess := newSession(ctl, conn)
	log.Info().Str("module", "signal").Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ctl.writePump(ctx, conn)
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, sess)
		cancel()
	}()
}

func (ctl *Controller) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// sendError emits the uniform error envelope; the connection stays open.
func (ctl *Controller) sendError(c core.SignalConnection, err error) {
	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{
		Type:    "error",
		Message: err.Error(),
	})
}

// broadcastRoom fans a payload out to every local member of the room,
// minus the excluded users. Cross-instance members are reached by their
// own instance's controller; the store is the shared source of truth.
func (ctl *Controller) broadcastRoom(roomID domain.RoomID, v any, exclude ...domain.UserID) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	for _, m := range ctl.Registry.Members(roomID) {
		skip := false
		for _, ex := range exclude {
			if m.UserID == ex {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if err := m.Conn.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", string(roomID)).Str("user", string(m.UserID)).Msg("broadcast dropped")
		}
	}
}
