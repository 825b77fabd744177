package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type clientEntry struct {
	RoomName domain.RoomName
	Session  core.MemberSession
	Cancel   context.CancelFunc
	// Calls are the session ids this client sent or received envelopes for.
	Calls map[domain.SessionID]struct{}
}

// Registry tracks connected relay clients, their users and the calls they take part in.
type Registry struct {
	mu      sync.RWMutex
	clients map[core.ClientID]*clientEntry
	users   map[domain.UserID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[core.ClientID]*clientEntry),
		users:   make(map[domain.UserID]*domain.User),
	}
}

func (r *Registry) GetOrCreateUser(uid domain.UserID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[uid]; ok {
		return u
	}
	u := domain.NewGuest(uid)
	r.users[uid] = u
	log.Info().Str("module", "app.registry").Str("uid", string(uid)).Msg("created new user")
	return u
}

func (r *Registry) UpdateUsername(uid domain.UserID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		return nil
	}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("uid", string(uid)).Str("username", name).Msg("updated username")
	return nil
}

func (r *Registry) BindClient(cid core.ClientID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[cid] = &clientEntry{
		Session: sess,
		Cancel:  cancel,
		Calls:   make(map[domain.SessionID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("bound client")
}

func (r *Registry) GetClient(cid core.ClientID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.clients[cid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(cid core.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("unbind client")
}

func (r *Registry) RoomOf(cid core.ClientID) (domain.RoomName, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.clients[cid]
	if !ok || entry.RoomName == "" {
		return "", nil, false
	}
	return entry.RoomName, entry.Session, true
}

func (r *Registry) UpdateRoom(cid core.ClientID, room domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.clients[cid]
	if !ok {
		return false
	}
	entry.RoomName = room
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("room", string(room)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(cid core.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.clients[cid]; ok {
		entry.RoomName = ""
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("removed room association")
}

type ClientSnap struct {
	CID     core.ClientID
	Session core.MemberSession
}

func (r *Registry) MembersOfRoom(name domain.RoomName) []ClientSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientSnap, 0, len(r.clients))
	for cid, e := range r.clients {
		if e.RoomName == name {
			out = append(out, ClientSnap{CID: cid, Session: e.Session})
		}
	}
	return out
}

// RoomMates lists the other members of cid's room.
func (r *Registry) RoomMates(cid core.ClientID) []ClientSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	self, ok := r.clients[cid]
	if !ok || self.RoomName == "" {
		return nil
	}
	var out []ClientSnap
	for other, e := range r.clients {
		if other != cid && e.RoomName == self.RoomName {
			out = append(out, ClientSnap{CID: other, Session: e.Session})
		}
	}
	return out
}

// TrackCall records that cid takes part in call sid.
func (r *Registry) TrackCall(cid core.ClientID, sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[cid]; ok {
		e.Calls[sid] = struct{}{}
	}
}

func (r *Registry) ForgetCall(cid core.ClientID, sid domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[cid]; ok {
		delete(e.Calls, sid)
	}
}

// TakeCalls returns and clears the calls recorded for cid.
func (r *Registry) TakeCalls(cid core.ClientID) []domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[cid]
	if !ok {
		return nil
	}
	out := make([]domain.SessionID, 0, len(e.Calls))
	for sid := range e.Calls {
		out = append(out, sid)
	}
	e.Calls = make(map[domain.SessionID]struct{})
	return out
}

func (r *Registry) Cancel(cid core.ClientID) bool {
	r.mu.RLock()
	e, ok := r.clients[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("canceled client")
	return true
}
