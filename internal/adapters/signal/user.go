package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

func (ctl *SignalWSController) handleRename(
	cid core.ClientID,
	conn *WsSignalConn,
	data []byte,
) {
	type renamePayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	sess, ok := ctl.Orch.Registry.GetClient(cid)
	if !ok {
		return
	}

	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("name", p.Name).Msg("rename")
	if err := ctl.Orch.Registry.UpdateUsername(sess.Meta().User.ID, p.Name); err != nil {
		ctl.sendError(conn, "invalid_name")
		return
	}
	ctl.handleWhoAmI(cid, conn)

	broadcastResp := struct {
		Type string      `json:"type"`
		User domain.User `json:"user"`
	}{
		Type: "member_updated",
		User: *sess.Meta().User,
	}
	ctl.BroadcastFrom(cid, broadcastResp)
}

func (ctl *SignalWSController) handleWhoAmI(
	cid core.ClientID,
	conn *WsSignalConn,
) {
	sess, ok := ctl.Orch.Registry.GetClient(cid)
	if !ok {
		return
	}
	resp := struct {
		Type     string          `json:"type"`
		ClientID core.ClientID   `json:"client_id"`
		Username string          `json:"username"`
		Room     domain.RoomName `json:"room,omitempty"`
	}{
		Type:     "whoami",
		ClientID: cid,
		Username: sess.Meta().User.Username,
	}
	if room, _, ok := ctl.Orch.Registry.RoomOf(cid); ok {
		resp.Room = room
	}
	ctl.sendJSON(conn, resp)
}
