package core

import "github.com/tunewave/listenroom/internal/domain"

// memberSession implements MemberSession by pairing participant meta with
// its transport endpoint.
type memberSession struct {
	participant domain.Participant
	signal      SignalConnection
}

func NewMemberSession(p domain.Participant, signal SignalConnection) MemberSession {
	return &memberSession{participant: p, signal: signal}
}

func (m *memberSession) Participant() domain.Participant { return m.participant }
func (m *memberSession) Signal() SignalConnection        { return m.signal }
