package core

import (
	"time"

	"github.com/dkeye/peercall/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []ClientID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.UserID `json:"id"`
	Username string        `json:"username"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(cid ClientID, ms MemberSession) error
	RemoveMember(cid ClientID)
	Broadcast(from ClientID, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	StopRoom(name domain.RoomName)
}

type RoomEventKind string

const (
	RoomMemberJoined RoomEventKind = "member_joined"
	RoomMemberLeft   RoomEventKind = "member_left"
	RoomCallSignal   RoomEventKind = "call_signal"
	RoomCallEnded    RoomEventKind = "call_ended"
)

// RoomEvent is a lifecycle notification about a room, published to observers.
type RoomEvent struct {
	Seq       uint64           `json:"seq"`
	Kind      RoomEventKind    `json:"kind"`
	Room      domain.RoomName  `json:"room"`
	Member    *MemberDTO       `json:"member,omitempty"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	Signal    EnvelopeType     `json:"signal,omitempty"`
	At        time.Time        `json:"at"`
}

// RoomNotifier fans room events out to observers. Publish must not block.
type RoomNotifier interface {
	Publish(ev RoomEvent)
}
