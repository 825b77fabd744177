package core

import "github.com/dkeye/peercall/internal/domain"

// ClientID identifies one websocket client of the relay.
type ClientID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and forwards to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

type memberSession struct {
	meta *domain.Member
	sig  SignalConnection
}

func NewMemberSession(meta *domain.Member, sig SignalConnection) MemberSession {
	return &memberSession{meta: meta, sig: sig}
}

func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.sig }
