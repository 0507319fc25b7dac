package app

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunewave/listenroom/internal/core"
	"github.com/tunewave/listenroom/internal/domain"
	"github.com/tunewave/listenroom/internal/protocol"
)

type mockSignal struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (m *mockSignal) TrySend(f core.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
	return nil
}

func (m *mockSignal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// messages decodes everything the signal received, in order.
func (m *mockSignal) messages(t *testing.T) []protocol.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Message, 0, len(m.frames))
	for _, f := range m.frames {
		msg, err := protocol.Decode(f)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (m *mockSignal) kinds(t *testing.T) []string {
	t.Helper()
	msgs := m.messages(t)
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.Kind())
	}
	return out
}

func newCoordinator(grace time.Duration) *Coordinator {
	return NewCoordinator(NewRegistry(), NewRoomManager(nil), grace)
}

func join(t *testing.T, c *Coordinator, sid core.SessionID, room domain.RoomID, uid domain.UserID, name string) *mockSignal {
	t.Helper()
	sig := &mockSignal{}
	err := c.Join(sid, sig, nil, protocol.Join{RoomID: room, UserID: uid, Username: name})
	require.NoError(t, err)
	return sig
}

func TestCoordinator_JoinSendsSnapshot(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	sig := join(t, c, "s1", "r1", "u1", "alice")

	msgs := sig.messages(t)
	require.NotEmpty(t, msgs)
	snap, ok := msgs[0].(protocol.SyncState)
	require.True(t, ok, "first message to a joiner must be sync_state")
	assert.Equal(t, domain.RoomID("r1"), snap.Room.RoomID)
	require.Len(t, snap.Room.Participants, 1)
	assert.Equal(t, "alice", snap.Room.Participants[0].Username)
}

func TestCoordinator_LateJoinerCatchesUpWithoutReplay(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	join(t, c, "sa", "r1", "ua", "alice")

	// Alice chats and queues a track before Bob shows up.
	require.NoError(t, c.HandleIntent("sa", protocol.Chat{RoomID: "r1", UserID: "ua", Message: "early"}))
	require.NoError(t, c.HandleIntent("sa", protocol.AddTrack{RoomID: "r1", Track: domain.Track{ID: "t1"}}))

	sigB := join(t, c, "sb", "r1", "ub", "bob")

	msgs := sigB.messages(t)
	require.NotEmpty(t, msgs)
	snap, ok := msgs[0].(protocol.SyncState)
	require.True(t, ok)

	names := make([]string, 0, 2)
	for _, p := range snap.Room.Participants {
		names = append(names, p.Username)
	}
	assert.Contains(t, names, "alice")
	assert.Contains(t, names, "bob")
	require.Len(t, snap.Room.Queue, 1)
	require.Len(t, snap.Room.Chat, 1)
	assert.Equal(t, "early", snap.Room.Chat[0].Message)
}

func TestCoordinator_AddTrackOrderingAcrossClients(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	join(t, c, "sa", "r1", "ua", "alice")
	sigB := join(t, c, "sb", "r1", "ub", "bob")

	require.NoError(t, c.HandleIntent("sa", protocol.AddTrack{RoomID: "r1", Track: domain.Track{ID: "x"}}))
	require.NoError(t, c.HandleIntent("sa", protocol.AddTrack{RoomID: "r1", Track: domain.Track{ID: "y"}}))

	var got []string
	for _, msg := range sigB.messages(t) {
		if at, ok := msg.(protocol.AddTrack); ok {
			got = append(got, at.Track.ID)
		}
	}
	assert.Equal(t, []string{"x", "y"}, got)
}

func TestCoordinator_EventsFanOutToSenderToo(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	sigA := join(t, c, "sa", "r1", "ua", "alice")
	sigB := join(t, c, "sb", "r1", "ub", "bob")

	require.NoError(t, c.HandleIntent("sa", protocol.Play{RoomID: "r1", Track: &domain.Track{ID: "t1"}, CurrentTimeMs: 0}))

	for _, sig := range []*mockSignal{sigA, sigB} {
		assert.Contains(t, sig.kinds(t), protocol.KindPlay)
	}
}

func TestCoordinator_ChatIdentityComesFromSession(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	sigA := join(t, c, "sa", "r1", "ua", "alice")

	// Spoofed identity in the payload is ignored.
	require.NoError(t, c.HandleIntent("sa", protocol.Chat{
		RoomID: "r1", UserID: "someone-else", Username: "mallory", Message: "hi",
	}))

	var chat *protocol.Chat
	for _, msg := range sigA.messages(t) {
		if m, ok := msg.(protocol.Chat); ok {
			chat = &m
		}
	}
	require.NotNil(t, chat)
	assert.Equal(t, domain.UserID("ua"), chat.UserID)
	assert.Equal(t, "alice", chat.Username)
	assert.NotZero(t, chat.TimestampMs)
}

func TestCoordinator_IntentForWrongRoomRejected(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	join(t, c, "sa", "r1", "ua", "alice")

	err := c.HandleIntent("sa", protocol.Seek{RoomID: "r2", CurrentTimeMs: 100})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCoordinator_IntentWithoutJoinRejected(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	err := c.HandleIntent("ghost", protocol.Seek{RoomID: "r1", CurrentTimeMs: 100})
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestCoordinator_GracePeriodSuppressesLeaveChurn(t *testing.T) {
	c := newCoordinator(time.Hour) // never expires during the test
	join(t, c, "sa", "r1", "ua", "alice")
	sigB := join(t, c, "sb", "r1", "ub", "bob")

	// Alice drops and comes back on a new connection within the window.
	c.OnDisconnect("sa")
	join(t, c, "sa2", "r1", "ua", "alice")

	kinds := sigB.kinds(t)
	assert.NotContains(t, kinds, protocol.KindLeave, "no leave for a grace rejoin")
	// Bob saw exactly one join for alice: the original one.
	joins := 0
	for _, msg := range sigB.messages(t) {
		if j, ok := msg.(protocol.Join); ok && j.UserID == "ua" {
			joins++
		}
	}
	assert.Equal(t, 1, joins, "no re-join broadcast for a grace rejoin")

	// The rejoined session is live and can act.
	require.NoError(t, c.HandleIntent("sa2", protocol.Seek{RoomID: "r1", CurrentTimeMs: 5}))
}

func TestCoordinator_GraceExpiryBroadcastsLeave(t *testing.T) {
	c := newCoordinator(0) // zero grace expires synchronously
	join(t, c, "sa", "r1", "ua", "alice")
	sigB := join(t, c, "sb", "r1", "ub", "bob")

	c.OnDisconnect("sa")

	kinds := sigB.kinds(t)
	assert.Contains(t, kinds, protocol.KindLeave)

	rooms, participants := c.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, participants)
}

func TestCoordinator_ExplicitLeaveRemovesAndCleansUp(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	join(t, c, "sa", "r1", "ua", "alice")

	require.NoError(t, c.HandleIntent("sa", protocol.Leave{RoomID: "r1", UserID: "ua"}))

	rooms, participants := c.Stats()
	assert.Equal(t, 0, rooms, "empty room is garbage-collected")
	assert.Equal(t, 0, participants)
}

func TestCoordinator_SecondDeviceReplacesFirst(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	sig1 := join(t, c, "s1", "r1", "ua", "alice")
	join(t, c, "s2", "r1", "ua", "alice")

	_, participants := c.Stats()
	assert.Equal(t, 1, participants)
	sig1.mu.Lock()
	closed := sig1.closed
	sig1.mu.Unlock()
	assert.True(t, closed, "replaced session transport must be closed")
}

func TestCoordinator_JoinValidation(t *testing.T) {
	c := newCoordinator(DefaultLeaveGrace)
	err := c.Join("s1", &mockSignal{}, nil, protocol.Join{RoomID: "r1", UserID: "u1"})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCoordinator_RoomSwitchLeavesTheOldRoom(t *testing.T) {
	c := newCoordinator(0)
	sigA := join(t, c, "sa", "r1", "ua", "alice")
	join(t, c, "s1", "r1", "u1", "bob")

	// Same socket joins another room without an explicit leave.
	join(t, c, "s1", "r2", "u1", "bob")

	rooms, participants := c.Stats()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 2, participants, "bob must not be counted in both rooms")
	assert.Contains(t, sigA.kinds(t), protocol.KindLeave, "the old room is told bob left")

	// A later joiner's snapshot of the old room carries no ghost.
	sigC := join(t, c, "sc", "r1", "uc", "carol")
	snap, ok := sigC.messages(t)[0].(protocol.SyncState)
	require.True(t, ok)
	for _, p := range snap.Room.Participants {
		assert.NotEqual(t, domain.UserID("u1"), p.UserID)
	}

	// Death of the switched connection cleans up only its current room.
	c.OnDisconnect("s1")
	rooms, participants = c.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 2, participants)
}

func TestCoordinator_RoomSwitchCleansUpEmptyOldRoom(t *testing.T) {
	c := newCoordinator(0)
	join(t, c, "s1", "r1", "u1", "alice")
	join(t, c, "s1", "r2", "u1", "alice")

	rooms, participants := c.Stats()
	assert.Equal(t, 1, rooms, "the abandoned room is garbage-collected")
	assert.Equal(t, 1, participants)

	c.OnDisconnect("s1")
	rooms, participants = c.Stats()
	assert.Equal(t, 0, rooms)
	assert.Equal(t, 0, participants)
}

func TestCoordinator_IdentitySwitchOnSameSocket(t *testing.T) {
	c := newCoordinator(0)
	join(t, c, "s1", "r1", "u1", "alice")
	join(t, c, "s1", "r1", "u2", "alice-alt")

	room, ok := c.Rooms.Get("r1")
	require.True(t, ok)
	_, ok = room.SessionOf("u1")
	assert.False(t, ok, "the old identity leaves no stale byUser entry")
	sid, ok := room.SessionOf("u2")
	require.True(t, ok)
	assert.Equal(t, core.SessionID("s1"), sid)

	_, participants := c.Stats()
	assert.Equal(t, 1, participants)
}
