// Package orch ties relay clients, rooms and call tracking together. It never
// touches transport resources directly; kicking a client cancels its context.
package orch

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var (
	ErrNotInRoom = errors.New("not in a room")
	ErrNoPeer    = errors.New("no peer in room")
	ErrNoClient  = errors.New("unknown client")
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	// Events receives room lifecycle events; nil disables them.
	Events core.RoomNotifier

	seq atomic.Uint64
}

// Forward relays env from cid to its room mate and records the call on both
// sides so a disconnect can end it.
func (o *Orchestrator) Forward(cid core.ClientID, env core.Envelope) error {
	roomName, _, ok := o.Registry.RoomOf(cid)
	if !ok {
		return ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomName)
	if !ok {
		return ErrNotInRoom
	}
	frame, err := env.Marshal()
	if err != nil {
		return err
	}

	mates := o.Registry.RoomMates(cid)
	if env.Type == core.EnvelopeBye {
		o.Registry.ForgetCall(cid, env.SessionID)
		for _, m := range mates {
			o.Registry.ForgetCall(m.CID, env.SessionID)
		}
	} else {
		o.Registry.TrackCall(cid, env.SessionID)
		for _, m := range mates {
			o.Registry.TrackCall(m.CID, env.SessionID)
		}
	}

	res := room.Broadcast(cid, frame)
	o.applyPolicy(room, res)

	switch env.Type {
	case core.EnvelopeOffer, core.EnvelopeAnswer:
		o.publish(core.RoomEvent{Kind: core.RoomCallSignal, Room: roomName, SessionID: env.SessionID, Signal: env.Type})
	case core.EnvelopeBye:
		o.publish(core.RoomEvent{Kind: core.RoomCallEnded, Room: roomName, SessionID: env.SessionID, Signal: env.Type})
	}

	if res.SendTo == 0 {
		log.Debug().Str("module", "app.orch").Str("cid", string(cid)).Str("type", string(env.Type)).Msg("no peer to forward to")
		return ErrNoPeer
	}
	return nil
}

func (o *Orchestrator) applyPolicy(room core.RoomService, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "app.orch").Str("cid", string(slow)).Msg("kicking slow member")
			o.KickClient(slow)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// Join moves cid into roomName. Rejoining the current room is a no-op.
func (o *Orchestrator) Join(cid core.ClientID, roomName domain.RoomName) (core.RoomService, error) {
	sess, ok := o.Registry.GetClient(cid)
	if !ok {
		return nil, ErrNoClient
	}
	if current, _, ok := o.Registry.RoomOf(cid); ok {
		if current == roomName {
			return o.Rooms.GetOrCreate(roomName), nil
		}
		o.Leave(cid)
		log.Info().Str("module", "app.orch").Str("cid", string(cid)).Str("from_room", string(current)).Msg("left previous room")
	}

	room := o.Rooms.GetOrCreate(roomName)
	if err := room.AddMember(cid, sess); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("cid", string(cid)).Str("room", string(roomName)).Msg("join rejected")
		return nil, err
	}
	o.Registry.UpdateRoom(cid, roomName)
	log.Info().Str("module", "app.orch").Str("cid", string(cid)).Str("room", string(roomName)).Msg("added to room")

	o.publish(core.RoomEvent{Kind: core.RoomMemberJoined, Room: roomName, Member: memberOf(sess)})
	return room, nil
}

// Leave ends cid's calls and removes it from its room. The connection stays open.
func (o *Orchestrator) Leave(cid core.ClientID) {
	roomName, sess, ok := o.Registry.RoomOf(cid)
	if !ok {
		return
	}
	o.endCalls(cid, roomName, "peer left")

	if room, ok := o.Rooms.Get(roomName); ok {
		room.RemoveMember(cid)
		if room.MemberCount() == 0 {
			o.Rooms.StopRoom(roomName)
		}
	}
	o.Registry.RemoveRoom(cid)
	o.publish(core.RoomEvent{Kind: core.RoomMemberLeft, Room: roomName, Member: memberOf(sess)})
}

// OnDisconnect releases everything held for a client whose transport is gone.
func (o *Orchestrator) OnDisconnect(cid core.ClientID) {
	o.Leave(cid)
	o.Registry.Unbind(cid)
}

// KickClient closes cid's transport; its read loop then calls OnDisconnect.
func (o *Orchestrator) KickClient(cid core.ClientID) {
	if !o.Registry.Cancel(cid) {
		return
	}
	o.Leave(cid)
}

// EvictRoom kicks every member and drops the room.
func (o *Orchestrator) EvictRoom(name domain.RoomName) int {
	members := o.Registry.MembersOfRoom(name)
	for _, snap := range members {
		o.KickClient(snap.CID)
	}
	o.Rooms.StopRoom(name)
	log.Info().Str("module", "app.orch").Str("room", string(name)).Int("kicked", len(members)).Msg("room evicted")
	return len(members)
}

// endCalls sends bye to the room mates for every call cid took part in.
func (o *Orchestrator) endCalls(cid core.ClientID, roomName domain.RoomName, reason string) {
	calls := o.Registry.TakeCalls(cid)
	if len(calls) == 0 {
		return
	}
	mates := o.Registry.RoomMates(cid)
	for _, sid := range calls {
		frame, err := core.NewByeEnvelope(sid, reason).Marshal()
		if err != nil {
			continue
		}
		for _, m := range mates {
			o.Registry.ForgetCall(m.CID, sid)
			if err := m.Session.Signal().TrySend(frame); err != nil {
				log.Warn().Err(err).Str("module", "app.orch").Str("cid", string(m.CID)).Msg("bye not delivered")
			}
		}
		o.publish(core.RoomEvent{Kind: core.RoomCallEnded, Room: roomName, SessionID: sid, Signal: core.EnvelopeBye})
		log.Info().Str("module", "app.orch").Str("cid", string(cid)).Str("sid", sid.String()).Str("reason", reason).Msg("call ended")
	}
}

func (o *Orchestrator) publish(ev core.RoomEvent) {
	if o.Events == nil {
		return
	}
	ev.Seq = o.seq.Add(1)
	ev.At = time.Now()
	o.Events.Publish(ev)
}

func memberOf(sess core.MemberSession) *core.MemberDTO {
	if sess == nil || sess.Meta() == nil || sess.Meta().User == nil {
		return nil
	}
	u := sess.Meta().User
	return &core.MemberDTO{ID: u.ID, Username: u.Username}
}
