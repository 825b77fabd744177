package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestPeerStateTerminal(t *testing.T) {
	for _, s := range []PeerState{StateIdle, StateOffering, StateAnswering, StateConnected} {
		if s.Terminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
	if !StateFailed.Terminal() || !StateClosed.Terminal() {
		t.Fatalf("failed/closed must be terminal")
	}
	if PeerState(42).String() != "unknown" {
		t.Fatalf("unexpected name for out of range state")
	}
}

func TestStateErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &StateError{Op: "create offer", State: StateOffering})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	var se *StateError
	if !errors.As(err, &se) || se.State != StateOffering {
		t.Fatalf("expected StateError in chain, got %#v", se)
	}
}

func TestConnectionErrorUnwrap(t *testing.T) {
	cause := errors.New("refused")
	err := &ConnectionError{URL: "ws://x", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable")
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if a == "" || a == b {
		t.Fatalf("ids not unique: %q %q", a, b)
	}
}

func TestParseRoomName(t *testing.T) {
	if got := ParseRoomName("  "); got != DefaultRoom {
		t.Fatalf("got %q, want default", got)
	}
	long := "0123456789012345678901234567890123456789"
	if got := ParseRoomName(long); len(got) != MaxRoomNameLen {
		t.Fatalf("len=%d, want %d", len(got), MaxRoomNameLen)
	}
}
