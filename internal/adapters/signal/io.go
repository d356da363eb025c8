package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, c *WSConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump processes messages strictly in arrival order; the session's
// handlers run on this goroutine only.
func (ctl *Controller) readPump(ctx context.Context, s *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(s.userID)).Msg("readPump closing")
		s.close(context.WithoutCancel(ctx))
		s.conn.Close()
	}()

	c, ok := s.conn.(*WSConn)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("user", string(s.userID)).Msg("readPump read ended")
				return
			}
			ctl.dispatch(ctx, s, data)
		}
	}
}

// dispatch routes one message by its type discriminator. Unknown types
// are logged and ignored without closing the connection.
func (ctl *Controller) dispatch(ctx context.Context, s *session, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		s.handleJoin(ctx, data)
	case "chat":
		s.handleChat(ctx, data)
	case "ping":
		ctl.sendJSON(s.conn, struct {
			Type string `json:"type"`
		}{Type: "pong"})
	case "getRouterRtpCapabilities":
		s.handleGetRouterRtpCapabilities(ctx, data)
	case "createProducerTransport":
		s.handleCreateProducerTransport(ctx)
	case "connectProducerTransport":
		s.handleConnectProducerTransport(ctx, data)
	case "produce":
		s.handleProduce(ctx, data)
	case "getActiveProducers":
		s.handleGetActiveProducers(data)
	case "createConsumerTransport":
		s.handleCreateConsumerTransport(ctx, data)
	case "connectConsumerTransport":
		s.handleConnectConsumerTransport(ctx, data)
	case "consume":
		s.handleConsume(ctx, data)
	case "resumeConsumer":
		s.handleResumeConsumer(data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}
