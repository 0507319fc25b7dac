// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
)

type UserID string

// Participant is one live member of a room. At most one entry per UserID
// exists in a room at a time; a rejoin replaces the old entry.
type Participant struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id UserID, username string) (Participant, error) {
	if id == "" {
		return Participant{}, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return Participant{}, ErrUserIDTooLong
	}
	if username == "" {
		return Participant{}, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return Participant{}, ErrUsernameTooLong
	}
	return Participant{UserID: id, Username: username}, nil
}
