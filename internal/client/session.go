package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tunewave/listenroom/internal/domain"
	"github.com/tunewave/listenroom/internal/protocol"
)

var (
	ErrSessionClosed    = errors.New("session closed")
	ErrAlreadyConnected = errors.New("session already connected")
)

// maxChatHistory mirrors the coordinator's snapshot bound so the cached
// view stays small over a long session.
const maxChatHistory = 100

// Options configures a RoomSession. URL is required; everything else has
// working defaults.
type Options struct {
	URL       string
	Transport Transport
	Backoff   BackoffPolicy

	// OnState is called after every applied inbound message with a copy of
	// the cached room view. OnStatus is called on every connection status
	// change. Both are invoked from the session's own goroutines and must
	// not block; neither is called after Disconnect returns.
	OnState  func(domain.RoomState)
	OnStatus func(Status)
}

// RoomSession is the per-client state machine: it joins a room, dispatches
// outgoing intents, reduces inbound authoritative events into a cached view,
// and recovers from connection loss with capped backoff. All reconnect state
// lives in explicit fields here, checked again inside the timer callback.
type RoomSession struct {
	url       string
	transport Transport
	backoff   BackoffPolicy
	onState   func(domain.RoomState)
	onStatus  func(Status)

	now      func() time.Time
	schedule func(d time.Duration, fn func()) *time.Timer

	mu       sync.Mutex
	status   Status
	state    domain.RoomState
	anchor   time.Time // local wall time the position was last set at
	conn     Conn
	ctx      context.Context
	roomID   domain.RoomID
	userID   domain.UserID
	username string

	shouldReconnect bool
	attempts        int
	retryTimer      *time.Timer
	disposed        bool
}

func NewRoomSession(opts Options) *RoomSession {
	if opts.Transport == nil {
		opts.Transport = NewWebSocketTransport()
	}
	if opts.Backoff == (BackoffPolicy{}) {
		opts.Backoff = DefaultBackoff()
	}
	return &RoomSession{
		url:       opts.URL,
		transport: opts.Transport,
		backoff:   opts.Backoff,
		onState:   opts.OnState,
		onStatus:  opts.OnStatus,
		now:       time.Now,
		schedule:  func(d time.Duration, fn func()) *time.Timer { return time.AfterFunc(d, fn) },
		status:    StatusIdle,
	}
}

// Connect opens the transport and joins the room. It returns immediately;
// progress is observable through Status/OnStatus. A fresh Connect resets
// the retry budget.
func (s *RoomSession) Connect(ctx context.Context, roomID domain.RoomID, userID domain.UserID, username string) error {
	if roomID == "" {
		return errors.Join(protocol.ErrMalformedMessage, errors.New("empty roomId"))
	}
	if _, err := domain.NewParticipant(userID, username); err != nil {
		return err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.conn != nil || s.status == StatusConnecting || s.status == StatusReconnecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.roomID, s.userID, s.username = roomID, userID, username
	s.ctx = ctx
	s.shouldReconnect = true
	s.attempts = 0
	s.state = domain.RoomState{RoomID: roomID}
	s.mu.Unlock()

	s.setStatus(StatusConnecting)
	go s.dial(ctx)
	return nil
}

// Disconnect leaves the room and disposes the session. The reconnect flag
// goes false before the socket closes, and the retry timer is cancelled, so
// a timer that already fired finds nothing to do.
func (s *RoomSession) Disconnect() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.shouldReconnect = false
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	roomID, userID := s.roomID, s.userID
	s.status = StatusDisconnected
	s.mu.Unlock()

	if conn != nil {
		// Best effort: the coordinator removes us on socket close anyway.
		if frame, err := protocol.Encode(protocol.Leave{RoomID: roomID, UserID: userID}); err == nil {
			_ = conn.Send(frame)
		}
		_ = conn.Close()
	}
	log.Info().Str("module", "client.session").Str("room", string(roomID)).Msg("session disconnected")
}

// Status returns the current connection status.
func (s *RoomSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// View returns a copy of the cached room state. The cache is only ever
// overwritten wholesale by sync_state or patched per event; it is never
// shared memory with any other client.
func (s *RoomSession) View() domain.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// PositionNow extrapolates the playback position forward while playing,
// anchored at the moment the last authoritative position was applied.
func (s *RoomSession) PositionNow() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsPlaying {
		return s.state.CurrentTimeMs
	}
	return s.state.CurrentTimeMs + s.now().Sub(s.anchor).Milliseconds()
}

// SendChat sends a chat intent. Like all intents it is dropped with
// ErrNotConnected while the transport is down.
func (s *RoomSession) SendChat(text string) error {
	s.mu.Lock()
	m := protocol.Chat{RoomID: s.roomID, UserID: s.userID, Username: s.username, Message: text}
	s.mu.Unlock()
	return s.sendIntent(m)
}

func (s *RoomSession) RequestPlay(track *domain.Track, positionMs int64) error {
	s.mu.Lock()
	m := protocol.Play{RoomID: s.roomID, Track: track, CurrentTimeMs: positionMs}
	s.mu.Unlock()
	return s.sendIntent(m)
}

func (s *RoomSession) RequestPause(positionMs *int64) error {
	s.mu.Lock()
	m := protocol.Pause{RoomID: s.roomID, CurrentTimeMs: positionMs}
	s.mu.Unlock()
	return s.sendIntent(m)
}

func (s *RoomSession) RequestSeek(positionMs int64) error {
	s.mu.Lock()
	m := protocol.Seek{RoomID: s.roomID, CurrentTimeMs: positionMs}
	s.mu.Unlock()
	return s.sendIntent(m)
}

func (s *RoomSession) RequestAddTrack(track domain.Track) error {
	s.mu.Lock()
	m := protocol.AddTrack{RoomID: s.roomID, Track: track}
	s.mu.Unlock()
	return s.sendIntent(m)
}

func (s *RoomSession) sendIntent(m protocol.Message) error {
	if err := protocol.Validate(m); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		// Deliberately dropped, not queued: replaying stale control
		// intents after a disconnect would desynchronize the room.
		return ErrNotConnected
	}
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

func (s *RoomSession) dial(ctx context.Context) {
	conn, err := s.transport.Open(ctx, s.url)
	if err != nil {
		log.Warn().Err(err).Str("module", "client.session").Msg("dial failed")
		s.connLost(nil)
		return
	}

	s.mu.Lock()
	if s.disposed || !s.shouldReconnect {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	// A stable connection forgives past failures.
	s.attempts = 0
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	join := protocol.Join{RoomID: s.roomID, UserID: s.userID, Username: s.username}
	s.mu.Unlock()

	s.setStatus(StatusConnected)

	frame, err := protocol.Encode(join)
	if err == nil {
		err = conn.Send(frame)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "client.session").Msg("join send failed")
		_ = conn.Close()
	}

	go s.readLoop(conn)
}

func (s *RoomSession) readLoop(conn Conn) {
	for data := range conn.Inbound() {
		s.handleInbound(data)
	}
	s.connLost(conn)
}

// connLost handles both a failed dial (conn == nil) and the death of an
// established connection. It decides between rescheduling and giving up.
func (s *RoomSession) connLost(conn Conn) {
	s.mu.Lock()
	if conn != nil && s.conn != conn {
		// A stale connection's loop outlived its replacement; ignore.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	if s.disposed || !s.shouldReconnect {
		s.mu.Unlock()
		s.setStatus(StatusDisconnected)
		return
	}
	if s.attempts >= s.backoff.MaxRetries {
		s.mu.Unlock()
		log.Error().Str("module", "client.session").Err(ErrReconnectExhausted).Msg("giving up")
		s.setStatus(StatusGivenUp)
		return
	}
	s.attempts++
	delay := s.backoff.Delay(s.attempts)
	s.retryTimer = s.schedule(delay, s.retryFire)
	attempt := s.attempts
	s.mu.Unlock()

	s.setStatus(StatusReconnecting)
	log.Info().Str("module", "client.session").Int("attempt", attempt).
		Dur("delay", delay).Msg("reconnect scheduled")
}

// retryFire runs in the timer goroutine. It re-checks the reconnect flag:
// a timer that was scheduled before Disconnect and fires after it must not
// reopen a socket.
func (s *RoomSession) retryFire() {
	s.mu.Lock()
	s.retryTimer = nil
	if s.disposed || !s.shouldReconnect {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	s.setStatus(StatusConnecting)
	s.dial(ctx)
}

func (s *RoomSession) setStatus(st Status) {
	s.mu.Lock()
	if s.disposed || s.status == st {
		s.mu.Unlock()
		return
	}
	s.status = st
	cb := s.onStatus
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (s *RoomSession) handleInbound(data []byte) {
	msg, err := protocol.Decode(data)
	switch {
	case errors.Is(err, protocol.ErrUnknownKind):
		log.Warn().Err(err).Str("module", "client.session").Msg("ignoring unknown kind")
		return
	case err != nil:
		// Malformed input never crashes the reducer or corrupts the view.
		log.Warn().Err(err).Str("module", "client.session").Msg("dropping malformed message")
		return
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.reduce(msg)
	snapshot := s.state.Clone()
	cb := s.onState
	s.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// reduce applies one authoritative event to the cached view. Callers hold
// s.mu. Every client applies the same events in coordinator receipt order,
// which is what makes all views converge.
func (s *RoomSession) reduce(msg protocol.Message) {
	switch v := msg.(type) {
	case protocol.SyncState:
		// The one wholesale overwrite: reconciliation after (re)connect.
		s.state = v.Room.Clone()
		s.anchor = s.now()
	case protocol.Join:
		if v.UserID != s.userID {
			s.appendSystem(v.Username+" joined the room", v.ServerTimeMs)
		}
	case protocol.Leave:
		// Membership truth comes from sync_state; this is cosmetic.
		if v.UserID != s.userID {
			s.appendSystem(v.Username+" left the room", v.ServerTimeMs)
		}
	case protocol.Chat:
		s.state.Chat = append(s.state.Chat, domain.ChatMessage{
			UserID:      v.UserID,
			Username:    v.Username,
			Message:     v.Message,
			TimestampMs: v.TimestampMs,
		})
		s.trimChat()
	case protocol.Play:
		if v.Track != nil {
			t := *v.Track
			s.state.CurrentTrack = &t
		}
		s.state.IsPlaying = true
		s.state.CurrentTimeMs = v.CurrentTimeMs
		s.anchor = s.now()
	case protocol.Pause:
		if v.CurrentTimeMs != nil {
			s.state.CurrentTimeMs = *v.CurrentTimeMs
		}
		s.state.IsPlaying = false
		s.anchor = s.now()
	case protocol.Seek:
		s.state.CurrentTimeMs = v.CurrentTimeMs
		s.anchor = s.now()
	case protocol.AddTrack:
		// Insertion order preserved, duplicates allowed.
		s.state.Queue = append(s.state.Queue, v.Track)
	}
}

func (s *RoomSession) appendSystem(text string, tsMs int64) {
	s.state.Chat = append(s.state.Chat, domain.ChatMessage{
		UserID:      domain.SystemUserID,
		Message:     text,
		TimestampMs: tsMs,
	})
	s.trimChat()
}

func (s *RoomSession) trimChat() {
	if len(s.state.Chat) > maxChatHistory {
		s.state.Chat = s.state.Chat[len(s.state.Chat)-maxChatHistory:]
	}
}
