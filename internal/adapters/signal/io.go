package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

// readPump handles the connection's requests one at a time, so replies
// leave in request order. Its exit is the session's disconnect.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		ctl.Orch.Disconnect(sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
		c.Close()
	}()

	pongWait := ctl.Opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(ctx, sid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var req core.Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.send(c, core.ErrorResponse(0, fmt.Errorf("%w: %v", core.ErrBadRequest, err)))
		return
	}

	switch req.Type {
	case "ping":
		ctl.handlePing(c)
		return
	case core.TypeRequest:
	default:
		ctl.send(c, core.ErrorResponse(req.ID, fmt.Errorf("%w: unknown message type %q", core.ErrBadRequest, req.Type)))
		return
	}

	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		ctl.send(c, core.ErrorResponse(req.ID, core.ErrRateLimited))
		return
	}

	start := time.Now()
	out, err := ctl.dispatch(ctx, sid, req)
	l := log.With().Str("module", "signal").Str("sid", string(sid)).Str("method", req.Method).
		Uint64("id", req.ID).Dur("took", time.Since(start)).Logger()
	if err != nil {
		l.Warn().Err(err).Str("code", core.CodeOf(err)).Msg("request failed")
		ctl.send(c, core.ErrorResponse(req.ID, err))
		return
	}
	l.Debug().Msg("request ok")
	ctl.send(c, core.OKResponse(req.ID, out))
}

func (ctl *SignalWSController) send(c *WsSignalConn, f core.Frame) {
	if err := c.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("reply dropped")
	}
}
