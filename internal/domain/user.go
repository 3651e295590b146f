// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// UserID addresses one connected client. The relay binds it to a
// signaling connection; the call engine only ever compares it.
type UserID string

// ValidateUsername bounds the identities accepted at the signaling edge.
func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
