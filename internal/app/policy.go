package app

import "github.com/tunewave/listenroom/internal/core"

type BackpressureAction int

const (
	// Ignore leaves the slow member in place; the dropped frame is simply lost.
	Ignore BackpressureAction = iota
	// KickMember tears the session down. The client's reconnect catches it up
	// via the snapshot instead of an ever-growing backlog.
	KickMember
)

// Policy decides what happens to a member whose send buffer overflowed
// during a fan-out.
type Policy interface {
	OnBackpressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

// KickPolicy is the default: a listener that cannot keep up with room
// events is better served by a fresh snapshot than by a lossy stream.
type KickPolicy struct{}

func (KickPolicy) OnBackpressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}
