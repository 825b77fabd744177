package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app/orch"
	"github.com/dkeye/peercall/internal/core"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.limits.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
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

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cid core.ClientID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(cid)
		ctl.limiter.Forget(cid)
		c.Close()
	}()

	// a kick cancels ctx; closing the socket unblocks ReadMessage
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	wait := ctl.limits.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		if !ctl.limiter.Allow(cid) {
			log.Warn().Str("module", "signal").Str("cid", string(cid)).Msg("rate limited")
			ctl.sendError(c, "rate_limited")
			continue
		}
		ctl.handleSignal(cid, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(cid core.ClientID, c *WsSignalConn, data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_json")
		return
	}

	if core.IsEnvelopeType(head.Type) {
		ctl.handleEnvelope(cid, c, data)
		return
	}

	switch head.Type {
	case "join":
		ctl.handleJoin(cid, c, data)
	case "leave":
		ctl.handleLeave(cid, c)
	case "ping":
		ctl.handlePing(c)
	case "rename":
		ctl.handleRename(cid, c, data)
	case "whoami":
		ctl.handleWhoAmI(cid, c)
	default:
		log.Warn().Str("module", "signal").Str("type", head.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
}

func (ctl *SignalWSController) handleEnvelope(cid core.ClientID, c *WsSignalConn, data []byte) {
	env, err := core.ParseEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("dropping envelope")
		ctl.sendError(c, "bad_envelope")
		return
	}
	err = ctl.Orch.Forward(cid, env)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrNoPeer):
		log.Debug().Str("module", "signal").Str("cid", string(cid)).Str("sid", env.SessionID.String()).Msg("no peer yet")
	default:
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("forward failed")
		ctl.sendError(c, err.Error())
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"error": msg,
	})
}
