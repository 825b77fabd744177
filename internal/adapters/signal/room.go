package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

func (ctl *SignalWSController) handleJoin(
	cid core.ClientID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type string `json:"type"`
		Room string `json:"room"`
		Name string `json:"name,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}

	sess, ok := ctl.Orch.Registry.GetClient(cid)
	if !ok {
		return
	}
	if p.Name != "" {
		if err := ctl.Orch.Registry.UpdateUsername(sess.Meta().User.ID, p.Name); err != nil {
			ctl.sendError(conn, "invalid_name")
			return
		}
		log.Info().Str("module", "signal").Str("cid", string(cid)).Str("name", p.Name).Msg("rename on join")
	}

	name := domain.ParseRoomName(p.Room)
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("room", string(name)).Msg("join")
	room, err := ctl.Orch.Join(cid, name)
	if err != nil {
		ctl.sendError(conn, err.Error())
		return
	}

	clientResp := struct {
		Type     string           `json:"type"`
		RoomName domain.RoomName  `json:"room"`
		Members  []core.MemberDTO `json:"members"`
		Count    int              `json:"count"`
		Capacity int              `json:"capacity"`
	}{
		Type:     "room_state",
		RoomName: room.Room().Name,
		Members:  room.MembersSnapshot(),
		Count:    room.MemberCount(),
		Capacity: room.Room().Capacity,
	}
	ctl.sendJSON(conn, clientResp)

	broadcastResp := struct {
		Type string      `json:"type"`
		User domain.User `json:"user"`
	}{
		Type: "member_joined",
		User: *sess.Meta().User,
	}
	ctl.BroadcastFrom(cid, broadcastResp)
}

// handleLeave removes the client from its room; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	cid core.ClientID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("leave")
	room, sess, ok := ctl.Orch.Registry.RoomOf(cid)

	ctl.Orch.Leave(cid)
	ctl.sendJSON(conn, map[string]any{
		"type": "left",
	})

	if ok {
		broadcastResp := struct {
			Type string      `json:"type"`
			User domain.User `json:"user"`
		}{
			Type: "member_left",
			User: *sess.Meta().User,
		}
		ctl.BroadcastRoom(room, broadcastResp)
	}
}
