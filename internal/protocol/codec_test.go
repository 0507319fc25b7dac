package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunewave/listenroom/internal/domain"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	pos := int64(4200)
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "join",
			msg:  Join{RoomID: "r1", UserID: "u1", Username: "alice"},
		},
		{
			name: "chat",
			msg:  Chat{RoomID: "r1", UserID: "u1", Username: "alice", Message: "hey", TimestampMs: 99},
		},
		{
			name: "play with track",
			msg: Play{
				RoomID:        "r1",
				Track:         &domain.Track{ID: "t1", Title: "Song", Artist: "Band"},
				CurrentTimeMs: 1500,
			},
		},
		{
			name: "pause with position",
			msg:  Pause{RoomID: "r1", CurrentTimeMs: &pos},
		},
		{
			name: "pause without position",
			msg:  Pause{RoomID: "r1"},
		},
		{
			name: "seek",
			msg:  Seek{RoomID: "r1", CurrentTimeMs: 60000},
		},
		{
			name: "add_track",
			msg:  AddTrack{RoomID: "r1", Track: domain.Track{ID: "t2", Title: "B-side"}},
		},
		{
			name: "sync_state",
			msg: SyncState{Room: domain.RoomState{
				RoomID:       "r1",
				Queue:        []domain.Track{{ID: "t1"}},
				IsPlaying:    true,
				Participants: []domain.Participant{{UserID: "u1", Username: "alice"}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "not json"},
		{name: "empty object", data: "{}"},
		{name: "join without user", data: `{"kind":"join","roomId":"r1"}`},
		{name: "chat without text", data: `{"kind":"chat","roomId":"r1","userId":"u1"}`},
		{name: "negative seek", data: `{"kind":"seek","roomId":"r1","currentTime":-5}`},
		{name: "add_track without id", data: `{"kind":"add_track","roomId":"r1","track":{"title":"x"}}`},
		{name: "sync_state without room", data: `{"kind":"sync_state","room":{}}`},
		{name: "wrong field type", data: `{"kind":"seek","roomId":"r1","currentTime":"ten"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.data))
			assert.Nil(t, msg)
			if tt.name == "empty object" {
				assert.ErrorIs(t, err, ErrUnknownKind)
			} else {
				assert.ErrorIs(t, err, ErrMalformedMessage)
			}
		})
	}
}

func TestDecode_UnknownKindIsNotFatal(t *testing.T) {
	msg, err := Decode([]byte(`{"kind":"reaction","roomId":"r1","emoji":"🔥"}`))
	assert.Nil(t, msg)
	require.ErrorIs(t, err, ErrUnknownKind)
	assert.NotErrorIs(t, err, ErrMalformedMessage)
}

func TestEncode_TagsKind(t *testing.T) {
	data, err := Encode(Seek{RoomID: "r1", CurrentTimeMs: 100})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"seek","roomId":"r1","currentTime":100}`, string(data))
}
