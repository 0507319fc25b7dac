// Package protocol defines the wire protocol for listening rooms: one JSON
// object per message, discriminated by the "kind" field.
package protocol

import "github.com/tunewave/listenroom/internal/domain"

const (
	KindJoin      = "join"
	KindLeave     = "leave"
	KindChat      = "chat"
	KindPlay      = "play"
	KindPause     = "pause"
	KindSeek      = "seek"
	KindAddTrack  = "add_track"
	KindSyncState = "sync_state"
)

const MaxChatLen = 2000

// Message is the closed set of wire messages. Decode returns exactly one of
// the concrete types below, so handlers can type-switch exhaustively.
type Message interface {
	Kind() string
}

// Join is sent client→server to enter a room. The coordinator answers with
// a SyncState snapshot and notifies the other participants.
type Join struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	// ServerTimeMs is set on the server→client notification only.
	ServerTimeMs int64 `json:"serverTime,omitempty"`
}

type Leave struct {
	RoomID       domain.RoomID `json:"roomId"`
	UserID       domain.UserID `json:"userId"`
	Username     string        `json:"username,omitempty"`
	ServerTimeMs int64         `json:"serverTime,omitempty"`
}

type Chat struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	Message  string        `json:"message"`
	// TimestampMs is stamped by the coordinator on the broadcast copy.
	TimestampMs  int64 `json:"timestampMs,omitempty"`
	ServerTimeMs int64 `json:"serverTime,omitempty"`
}

type Play struct {
	RoomID        domain.RoomID `json:"roomId"`
	Track         *domain.Track `json:"track,omitempty"`
	CurrentTimeMs int64         `json:"currentTime"`
	ServerTimeMs  int64         `json:"serverTime,omitempty"`
}

// Pause carries an optional position: nil means "pause where you are",
// keeping whatever position the receiver already holds.
type Pause struct {
	RoomID        domain.RoomID `json:"roomId"`
	CurrentTimeMs *int64        `json:"currentTime,omitempty"`
	ServerTimeMs  int64         `json:"serverTime,omitempty"`
}

type Seek struct {
	RoomID        domain.RoomID `json:"roomId"`
	CurrentTimeMs int64         `json:"currentTime"`
	ServerTimeMs  int64         `json:"serverTime,omitempty"`
}

type AddTrack struct {
	RoomID       domain.RoomID `json:"roomId"`
	Track        domain.Track  `json:"track"`
	ServerTimeMs int64         `json:"serverTime,omitempty"`
}

// SyncState replaces the receiver's entire cached room view. It is the only
// message that overwrites rather than patches, and is the reconciliation
// point after every (re)connect.
type SyncState struct {
	Room domain.RoomState `json:"room"`
}

func (Join) Kind() string      { return KindJoin }
func (Leave) Kind() string     { return KindLeave }
func (Chat) Kind() string      { return KindChat }
func (Play) Kind() string      { return KindPlay }
func (Pause) Kind() string     { return KindPause }
func (Seek) Kind() string      { return KindSeek }
func (AddTrack) Kind() string  { return KindAddTrack }
func (SyncState) Kind() string { return KindSyncState }
