package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage covers both invalid JSON and shape violations.
	// Receivers log and drop; the connection stays open.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownKind marks kinds this build does not speak. Receivers must
	// ignore such messages so the protocol can grow without breaking peers.
	ErrUnknownKind = errors.New("unknown message kind")
)

type envelope struct {
	Kind string `json:"kind"`
}

// Encode wraps a message with its kind tag and serializes it.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	// Splice the tag into the object rather than maintaining parallel
	// tagged structs for every kind.
	tagged := make([]byte, 0, len(body)+len(m.Kind())+10)
	tagged = append(tagged, `{"kind":"`...)
	tagged = append(tagged, m.Kind()...)
	tagged = append(tagged, '"')
	if len(body) > 2 { // not "{}"
		tagged = append(tagged, ',')
		tagged = append(tagged, body[1:len(body)-1]...)
		tagged = append(tagged, '}')
	} else {
		tagged = append(tagged, '}')
	}
	return tagged, nil
}

// Decode parses and validates one wire message. It never panics on hostile
// input: anything that fails shape validation comes back as
// ErrMalformedMessage, and kinds from future protocol versions come back
// as ErrUnknownKind.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var (
		msg Message
		err error
	)
	switch env.Kind {
	case KindJoin:
		var m Join
		err = unmarshalInto(data, &m)
		msg = m
	case KindLeave:
		var m Leave
		err = unmarshalInto(data, &m)
		msg = m
	case KindChat:
		var m Chat
		err = unmarshalInto(data, &m)
		msg = m
	case KindPlay:
		var m Play
		err = unmarshalInto(data, &m)
		msg = m
	case KindPause:
		var m Pause
		err = unmarshalInto(data, &m)
		msg = m
	case KindSeek:
		var m Seek
		err = unmarshalInto(data, &m)
		msg = m
	case KindAddTrack:
		var m AddTrack
		err = unmarshalInto(data, &m)
		msg = m
	case KindSyncState:
		var m SyncState
		err = unmarshalInto(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err != nil {
		return nil, err
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func unmarshalInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// Validate checks per-kind required fields. Both sides run it: the client
// before acting on inbound events, the coordinator before accepting intents.
func Validate(m Message) error {
	switch v := m.(type) {
	case Join:
		if v.RoomID == "" || v.UserID == "" || v.Username == "" {
			return fmt.Errorf("%w: join requires roomId, userId and username", ErrMalformedMessage)
		}
	case Leave:
		if v.RoomID == "" || v.UserID == "" {
			return fmt.Errorf("%w: leave requires roomId and userId", ErrMalformedMessage)
		}
	case Chat:
		if v.RoomID == "" || v.UserID == "" || v.Message == "" {
			return fmt.Errorf("%w: chat requires roomId, userId and message", ErrMalformedMessage)
		}
		if len(v.Message) > MaxChatLen {
			return fmt.Errorf("%w: chat message exceeds %d bytes", ErrMalformedMessage, MaxChatLen)
		}
	case Play:
		if v.RoomID == "" {
			return fmt.Errorf("%w: play requires roomId", ErrMalformedMessage)
		}
		if v.CurrentTimeMs < 0 {
			return fmt.Errorf("%w: negative currentTime", ErrMalformedMessage)
		}
		if v.Track != nil && v.Track.ID == "" {
			return fmt.Errorf("%w: play track requires id", ErrMalformedMessage)
		}
	case Pause:
		if v.RoomID == "" {
			return fmt.Errorf("%w: pause requires roomId", ErrMalformedMessage)
		}
		if v.CurrentTimeMs != nil && *v.CurrentTimeMs < 0 {
			return fmt.Errorf("%w: negative currentTime", ErrMalformedMessage)
		}
	case Seek:
		if v.RoomID == "" {
			return fmt.Errorf("%w: seek requires roomId", ErrMalformedMessage)
		}
		if v.CurrentTimeMs < 0 {
			return fmt.Errorf("%w: negative currentTime", ErrMalformedMessage)
		}
	case AddTrack:
		if v.RoomID == "" || v.Track.ID == "" {
			return fmt.Errorf("%w: add_track requires roomId and track id", ErrMalformedMessage)
		}
	case SyncState:
		if v.Room.RoomID == "" {
			return fmt.Errorf("%w: sync_state requires room snapshot", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, m)
	}
	return nil
}
