package core

import (
	"github.com/tunewave/listenroom/internal/domain"
	"github.com/tunewave/listenroom/internal/protocol"
)

// Frame is one encoded wire message.
type Frame []byte

// SessionID identifies a single connection, not a user. A reconnecting user
// shows up under a fresh SessionID and replaces the old one.
type SessionID string

// SignalConnection abstracts the outbound half of a participant transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a domain.Participant and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Participant() domain.Participant
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the coordinator.
type PublishResult struct {
	SentTo  int
	Dropped []MemberSession
}

// RoomService owns the authoritative state for one room. It is the single
// writer: every mutation goes through Apply under the room lock, and the
// fan-out of the corresponding event happens under the same lock, so the
// broadcast order every participant observes equals the apply order.
type RoomService interface {
	ID() domain.RoomID
	ParticipantCount() int
	Snapshot() domain.RoomState

	AddMember(sid SessionID, ms MemberSession) (replaced MemberSession)
	RemoveMember(sid SessionID) (removed MemberSession, ok bool)
	SessionOf(uid domain.UserID) (SessionID, bool)

	Apply(ev protocol.Message, frame Frame) PublishResult
	SendTo(sid SessionID, frame Frame) error
	Broadcast(frame Frame) PublishResult
}

type RoomInfo struct {
	ID               domain.RoomID `json:"roomId"`
	ParticipantCount int           `json:"participantCount"`
}

type RoomFactory interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.RoomID)
}
