package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState       = errors.New("invalid state")
	ErrSessionClosed      = errors.New("session closed")
	ErrChannelClosed      = errors.New("signal channel closed")
	ErrBackpressure       = errors.New("backpressure")
	ErrMalformed          = errors.New("malformed message")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrRoomFull           = errors.New("room is full")
)

// ConnectionError reports that the signaling transport could not be reached.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StateError is returned when an operation is not allowed in the current
// peer state. It matches ErrInvalidState with errors.Is.
type StateError struct {
	Op    string
	State PeerState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v in state %s", e.Op, ErrInvalidState, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// RelayError is an error frame sent by the signaling relay, e.g. when the room
// is full. A reason equal to ErrRoomFull's text matches ErrRoomFull.
type RelayError struct {
	Reason string
}

func (e *RelayError) Error() string {
	return "relay: " + e.Reason
}

func (e *RelayError) Is(target error) bool {
	return target == ErrRoomFull && e.Reason == ErrRoomFull.Error()
}
