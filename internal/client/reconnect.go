package client

import (
	"errors"
	"time"
)

// ErrReconnectExhausted: the retry budget ran out. Surfaced to the
// application as the terminal StatusGivenUp, never silently absorbed.
var ErrReconnectExhausted = errors.New("reconnect budget exhausted")

// Status is the observable connection state of a RoomSession. The consuming
// application can read it at any time to reflect it in the interface.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusGivenUp
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusGivenUp:
		return "given_up"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// BackoffPolicy caps exponential reconnect delays. Only a successful open
// resets the attempt counter; a dial that fails before reaching Connected
// still consumes a retry slot.
type BackoffPolicy struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Base:       time.Second,
		Max:        30 * time.Second,
		MaxRetries: 5,
	}
}

// Delay returns the wait before retry attempt n (1-based):
// min(Base * 2^(n-1), Max).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
