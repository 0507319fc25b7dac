package domain

type RoomID string

// Track is a catalog reference, not the audio itself. Playback happens on
// each client; rooms only synchronize which track is current and where.
type Track struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// RoomState is the full synchronized state of one listening room. The
// coordinator owns the authoritative copy; every client holds a cached copy
// that is either overwritten wholesale by a snapshot or patched per event.
type RoomState struct {
	RoomID        RoomID        `json:"roomId"`
	CurrentTrack  *Track        `json:"currentTrack"`
	Queue         []Track       `json:"queue"`
	IsPlaying     bool          `json:"isPlaying"`
	CurrentTimeMs int64         `json:"currentTime"`
	Participants  []Participant `json:"participants"`
	Chat          []ChatMessage `json:"chat"`
	// ServerTimeMs is the coordinator clock at snapshot time. CurrentTimeMs
	// is only meaningful relative to it while playing.
	ServerTimeMs int64 `json:"serverTime"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// aliasing the coordinator-owned slices.
func (s RoomState) Clone() RoomState {
	out := s
	if s.CurrentTrack != nil {
		t := *s.CurrentTrack
		out.CurrentTrack = &t
	}
	out.Queue = append([]Track(nil), s.Queue...)
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Chat = append([]ChatMessage(nil), s.Chat...)
	return out
}
