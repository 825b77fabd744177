package domain

import "strings"

const (
	DefaultRoom    RoomName = "main"
	MaxRoomNameLen          = 36
	// RoomCapacity is the number of peers a room pairs; calls are strictly peer to peer.
	RoomCapacity = 2
)

type RoomName string

type Room struct {
	Name     RoomName
	Capacity int
}

// ParseRoomName trims and truncates a user-supplied room name, falling back
// to DefaultRoom when nothing is left.
func ParseRoomName(raw string) RoomName {
	raw = strings.TrimSpace(raw)
	if len(raw) > MaxRoomNameLen {
		raw = raw[:MaxRoomNameLen]
	}
	if raw == "" {
		return DefaultRoom
	}
	return RoomName(raw)
}
