package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tunewave/listenroom/internal/core"
	"github.com/tunewave/listenroom/internal/domain"
	"github.com/tunewave/listenroom/internal/protocol"
)

var (
	// ErrNotJoined: intent from a connection that never joined a room.
	ErrNotJoined = errors.New("session not joined to a room")

	// ErrProtocolViolation: structurally invalid intent. The sender is not
	// disconnected for this alone; the intent is rejected and logged.
	ErrProtocolViolation = errors.New("protocol violation")
)

// DefaultLeaveGrace is how long a dropped participant may stay in the room
// before a leave is broadcast. It covers the client's first reconnect tiers
// so a blip does not spam the room with leave/join churn.
const DefaultLeaveGrace = 10 * time.Second

type graceKey struct {
	room domain.RoomID
	user domain.UserID
}

type pendingLeave struct {
	sid   core.SessionID
	timer *time.Timer
}

// Coordinator is the single authority over room state. It serializes all
// intents per room (via the room lock), stamps them with the server clock,
// and fans accepted events out to every participant including the sender.
type Coordinator struct {
	Registry *Registry
	Rooms    core.RoomFactory
	Grace    time.Duration
	Policy   Policy

	now func() time.Time

	mu      sync.Mutex
	pending map[graceKey]*pendingLeave
}

func NewCoordinator(reg *Registry, rooms core.RoomFactory, grace time.Duration) *Coordinator {
	return &Coordinator{
		Registry: reg,
		Rooms:    rooms,
		Grace:    grace,
		Policy:   KickPolicy{},
		now:      time.Now,
		pending:  make(map[graceKey]*pendingLeave),
	}
}

// Join admits a connection into a room: membership insert/replace, an
// immediate sync_state snapshot to the joiner, and a join notification to
// the room. A rejoin within the leave grace window is silent: the snapshot
// is still sent but no join is broadcast.
func (c *Coordinator) Join(sid core.SessionID, signal core.SignalConnection, cancel context.CancelFunc, m protocol.Join) error {
	p, err := domain.NewParticipant(m.UserID, m.Username)
	if err != nil {
		return errors.Join(ErrProtocolViolation, err)
	}

	// A connection that is already bound leaves its old room first, so a
	// room switch (or an identity switch on the same socket) never strands
	// a ghost member in the previous room.
	if oldRoomID, oldSess, ok := c.Registry.Lookup(sid); ok {
		oldP := oldSess.Participant()
		if oldRoomID != m.RoomID || oldP.UserID != p.UserID {
			if oldRoom, ok := c.Rooms.Get(oldRoomID); ok {
				c.leave(sid, oldRoom, oldP)
			} else {
				c.Registry.Unbind(sid)
			}
		}
	}

	room := c.Rooms.GetOrCreate(m.RoomID)
	rejoining := c.cancelPending(graceKey{room: m.RoomID, user: p.UserID})

	// Single-device: a live session for the same user is torn down first.
	if oldSID, ok := room.SessionOf(p.UserID); ok && oldSID != sid {
		c.Registry.Cancel(oldSID)
		c.Registry.Unbind(oldSID)
	}

	ms := core.NewMemberSession(p, signal)
	if replaced := room.AddMember(sid, ms); replaced != nil {
		replaced.Signal().Close()
	}
	c.Registry.Bind(sid, m.RoomID, ms, cancel)

	// The snapshot is what lets a late joiner or a reconnecting client
	// catch up without any event replay.
	snap, err := protocol.Encode(protocol.SyncState{Room: room.Snapshot()})
	if err != nil {
		return err
	}
	if err := room.SendTo(sid, snap); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("sid", string(sid)).Msg("snapshot send failed")
	}

	if !rejoining {
		c.applyAndFanOut(room, protocol.Join{
			RoomID:       m.RoomID,
			UserID:       p.UserID,
			Username:     p.Username,
			ServerTimeMs: c.now().UnixMilli(),
		})
	}

	log.Info().Str("module", "app.coordinator").Str("room", string(m.RoomID)).
		Str("user", string(p.UserID)).Bool("rejoin", rejoining).Msg("participant joined")
	return nil
}

// HandleIntent validates, stamps and applies one client intent. Receipt
// order here is the authoritative order for the room.
func (c *Coordinator) HandleIntent(sid core.SessionID, msg protocol.Message) error {
	roomID, sess, ok := c.Registry.Lookup(sid)
	if !ok {
		return ErrNotJoined
	}
	room, ok := c.Rooms.Get(roomID)
	if !ok {
		return ErrNotJoined
	}

	nowMs := c.now().UnixMilli()
	p := sess.Participant()

	var ev protocol.Message
	switch v := msg.(type) {
	case protocol.Leave:
		if v.RoomID != roomID {
			return ErrProtocolViolation
		}
		c.leave(sid, room, p)
		return nil
	case protocol.Chat:
		if v.RoomID != roomID {
			return ErrProtocolViolation
		}
		// Identity comes from the session, never from the payload.
		ev = protocol.Chat{
			RoomID:       roomID,
			UserID:       p.UserID,
			Username:     p.Username,
			Message:      v.Message,
			TimestampMs:  nowMs,
			ServerTimeMs: nowMs,
		}
	case protocol.Play:
		if v.RoomID != roomID {
			return ErrProtocolViolation
		}
		v.ServerTimeMs = nowMs
		ev = v
	case protocol.Pause:
		if v.RoomID != roomID {
			return ErrProtocolViolation
		}
		v.ServerTimeMs = nowMs
		ev = v
	case protocol.Seek:
		if v.RoomID != roomID {
			return ErrProtocolViolation
		}
		v.ServerTimeMs = nowMs
		ev = v
	case protocol.AddTrack:
		if v.RoomID != roomID {
			return ErrProtocolViolation
		}
		v.ServerTimeMs = nowMs
		ev = v
	default:
		return ErrProtocolViolation
	}

	c.applyAndFanOut(room, ev)
	return nil
}

// OnDisconnect starts the leave grace window for an involuntarily dropped
// connection. If the user rejoins before it expires nothing is broadcast;
// otherwise the participant is removed and a leave goes out.
func (c *Coordinator) OnDisconnect(sid core.SessionID) {
	roomID, sess, ok := c.Registry.Lookup(sid)
	if !ok {
		return
	}
	c.Registry.Unbind(sid)

	key := graceKey{room: roomID, user: sess.Participant().UserID}

	if c.Grace <= 0 {
		c.mu.Lock()
		c.pending[key] = &pendingLeave{sid: sid}
		c.mu.Unlock()
		c.expireGrace(key)
		return
	}

	c.mu.Lock()
	if old, exists := c.pending[key]; exists && old.timer != nil {
		old.timer.Stop()
	}
	entry := &pendingLeave{sid: sid}
	entry.timer = time.AfterFunc(c.Grace, func() { c.expireGrace(key) })
	c.pending[key] = entry
	c.mu.Unlock()

	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).
		Str("user", string(key.user)).Dur("grace", c.Grace).Msg("connection lost, grace started")
}

// Stats reports active room and participant counts.
func (c *Coordinator) Stats() (rooms, participants int) {
	for _, info := range c.Rooms.List() {
		rooms++
		participants += info.ParticipantCount
	}
	return rooms, participants
}

func (c *Coordinator) leave(sid core.SessionID, room core.RoomService, p domain.Participant) {
	if _, ok := room.RemoveMember(sid); !ok {
		return
	}
	c.Registry.Unbind(sid)
	c.applyAndFanOut(room, protocol.Leave{
		RoomID:       room.ID(),
		UserID:       p.UserID,
		Username:     p.Username,
		ServerTimeMs: c.now().UnixMilli(),
	})
	c.cleanupRoom(room)
	log.Info().Str("module", "app.coordinator").Str("room", string(room.ID())).
		Str("user", string(p.UserID)).Msg("participant left")
}

func (c *Coordinator) expireGrace(key graceKey) {
	c.mu.Lock()
	entry, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	room, ok := c.Rooms.Get(key.room)
	if !ok {
		return
	}
	ms, ok := room.RemoveMember(entry.sid)
	if !ok {
		// The user came back under a new session before the timer fired.
		return
	}
	ms.Signal().Close()

	p := ms.Participant()
	c.applyAndFanOut(room, protocol.Leave{
		RoomID:       key.room,
		UserID:       p.UserID,
		Username:     p.Username,
		ServerTimeMs: c.now().UnixMilli(),
	})
	c.cleanupRoom(room)
	log.Info().Str("module", "app.coordinator").Str("room", string(key.room)).
		Str("user", string(key.user)).Msg("grace expired, participant removed")
}

func (c *Coordinator) cancelPending(key graceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[key]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(c.pending, key)
	return true
}

func (c *Coordinator) applyAndFanOut(room core.RoomService, ev protocol.Message) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("kind", ev.Kind()).Msg("encode event")
		return
	}
	res := room.Apply(ev, core.Frame(frame))
	for _, slow := range res.Dropped {
		if c.Policy.OnBackpressure(room, slow) != KickMember {
			continue
		}
		if sid, ok := room.SessionOf(slow.Participant().UserID); ok {
			c.Registry.Cancel(sid)
		}
	}
}

func (c *Coordinator) cleanupRoom(room core.RoomService) {
	if room.ParticipantCount() == 0 {
		c.Rooms.StopRoom(room.ID())
		log.Info().Str("module", "app.coordinator").Str("room", string(room.ID())).Msg("empty room removed")
	}
}
