package core

import "github.com/dkeye/Broadcast/internal/domain"

// Frame is a raw encoded signaling message.
type Frame []byte

type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member, its signaling endpoint and its media
// negotiation state. This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	RoomID() domain.RoomID
	Meta() *domain.Member
	Signal() SignalConnection
	Media() *MediaState
	MarkSlow() bool
	Slow() bool
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SID        SessionID     `json:"sid"`
	UserID     domain.UserID `json:"user_id,omitempty"`
	DeviceName string        `json:"device_name"`
	Producing  bool          `json:"producing"`
	Consuming  bool          `json:"consuming"`
	Slow       bool          `json:"slow,omitempty"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	AddMember(ms MemberSession) bool
	RemoveMember(sid SessionID) bool
	Broadcast(exclude SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"client_count"`
}

// RoomManager is the room registry: an arena of rooms indexed by id.
type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	Join(id domain.RoomID, ms MemberSession) RoomService
	Leave(id domain.RoomID, sid SessionID) bool
	Broadcast(id domain.RoomID, data Frame, exclude SessionID) PublishResult
	List() []RoomInfo
	StopRoom(id domain.RoomID)
	ReapEmpty() int
}
