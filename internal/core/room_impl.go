package core

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tunewave/listenroom/internal/domain"
	"github.com/tunewave/listenroom/internal/protocol"
)

// maxChatHistory bounds the chat kept in snapshots. Late joiners get recent
// context; the protocol never promises full history.
const maxChatHistory = 100

var ErrNoSuchSession = errors.New("no such session")

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	id  domain.RoomID
	now func() time.Time

	mu     sync.Mutex
	bySID  map[SessionID]MemberSession
	byUser map[domain.UserID]SessionID

	currentTrack *domain.Track
	queue        []domain.Track
	isPlaying    bool
	positionMs   int64
	// positionAt anchors positionMs in wall time; while playing, the real
	// position is positionMs plus the time elapsed since the anchor.
	positionAt time.Time
	chat       []domain.ChatMessage
}

func NewRoomService(id domain.RoomID, now func() time.Time) RoomService {
	if now == nil {
		now = time.Now
	}
	return &roomImpl{
		id:     id,
		now:    now,
		bySID:  make(map[SessionID]MemberSession),
		byUser: make(map[domain.UserID]SessionID),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

func (r *roomImpl) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySID)
}

// AddMember registers a participant, replacing any live session for the same
// user (single-device: a rejoin replaces, never duplicates). The replaced
// session is returned so the caller can close its transport.
func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) MemberSession {
	uid := ms.Participant().UserID
	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced MemberSession
	if old, ok := r.byUser[uid]; ok && old != sid {
		replaced = r.bySID[old]
		delete(r.bySID, old)
	}
	r.bySID[sid] = ms
	r.byUser[uid] = sid
	log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Str("sid", string(sid)).Str("user", string(uid)).Msg("member added")
	return replaced
}

func (r *roomImpl) RemoveMember(sid SessionID) (MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return nil, false
	}
	uid := ms.Participant().UserID
	if r.byUser[uid] == sid {
		delete(r.byUser, uid)
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).
		Str("sid", string(sid)).Str("user", string(uid)).Msg("member removed")
	return ms, true
}

func (r *roomImpl) SessionOf(uid domain.UserID) (SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.byUser[uid]
	return sid, ok
}

// Apply mutates the room per the event and fans the frame out to every
// participant, sender included, before releasing the lock. Holding the lock
// across both steps is what makes coordinator receipt order the one order
// all clients observe.
func (r *roomImpl) Apply(ev protocol.Message, frame Frame) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch v := ev.(type) {
	case protocol.Play:
		if v.Track != nil {
			t := *v.Track
			r.currentTrack = &t
		}
		r.positionMs = v.CurrentTimeMs
		r.positionAt = r.now()
		r.isPlaying = true
	case protocol.Pause:
		if v.CurrentTimeMs != nil {
			r.positionMs = *v.CurrentTimeMs
		} else if r.isPlaying {
			r.positionMs += r.now().Sub(r.positionAt).Milliseconds()
		}
		r.positionAt = r.now()
		r.isPlaying = false
	case protocol.Seek:
		r.positionMs = v.CurrentTimeMs
		r.positionAt = r.now()
	case protocol.AddTrack:
		r.queue = append(r.queue, v.Track)
	case protocol.Chat:
		r.chat = append(r.chat, domain.ChatMessage{
			UserID:      v.UserID,
			Username:    v.Username,
			Message:     v.Message,
			TimestampMs: v.TimestampMs,
		})
		if len(r.chat) > maxChatHistory {
			r.chat = r.chat[len(r.chat)-maxChatHistory:]
		}
	case protocol.Join, protocol.Leave:
		// Membership is maintained via AddMember/RemoveMember; these events
		// are broadcast-only notifications.
	}

	return r.broadcastLocked(frame)
}

func (r *roomImpl) Broadcast(frame Frame) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(frame)
}

func (r *roomImpl) broadcastLocked(frame Frame) PublishResult {
	res := PublishResult{}
	for _, ms := range r.bySID {
		if err := ms.Signal().TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, ms)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).
		Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendTo(sid SessionID, frame Frame) error {
	r.mu.Lock()
	ms, ok := r.bySID[sid]
	r.mu.Unlock()
	if !ok {
		return ErrNoSuchSession
	}
	return ms.Signal().TrySend(frame)
}

// Snapshot returns the full room state with the playback position
// extrapolated to now, stamped with the coordinator clock.
func (r *roomImpl) Snapshot() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	pos := r.positionMs
	if r.isPlaying {
		pos += now.Sub(r.positionAt).Milliseconds()
	}

	participants := make([]domain.Participant, 0, len(r.bySID))
	for _, ms := range r.bySID {
		participants = append(participants, ms.Participant())
	}

	st := domain.RoomState{
		RoomID:        r.id,
		CurrentTrack:  r.currentTrack,
		Queue:         r.queue,
		IsPlaying:     r.isPlaying,
		CurrentTimeMs: pos,
		Participants:  participants,
		Chat:          r.chat,
		ServerTimeMs:  now.UnixMilli(),
	}
	return st.Clone()
}
