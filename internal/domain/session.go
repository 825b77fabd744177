package domain

import (
	"github.com/google/uuid"
)

// SessionID identifies one call between two peers. It is created when the
// call starts and never changes.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (id SessionID) String() string { return string(id) }

// PeerState is the lifecycle state of a peer session.
type PeerState int

const (
	StateIdle PeerState = iota
	StateOffering
	StateAnswering
	StateConnected
	StateFailed
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further negotiation can happen in s.
func (s PeerState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Negotiating reports whether s is waiting on the remote peer.
func (s PeerState) Negotiating() bool {
	return s == StateOffering || s == StateAnswering
}
