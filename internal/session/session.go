package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Reason codes for handshake authentication failures.
const (
	ReasonMissingCredentials = "missing_credentials"
	ReasonInvalidSession     = "invalid_session"
	ReasonInternal           = "internal"
)

// ErrSessionNotFound is returned by an Authority when no session exists for
// the given token. Expired sessions look identical to missing ones.
var ErrSessionNotFound = errors.New("session not found")

// Session is an issued login session resolved from an opaque token.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Authority resolves opaque session tokens to sessions. The session table is
// owned elsewhere; the realtime core only ever reads it.
type Authority interface {
	Resolve(ctx context.Context, sessionID string) (*Session, error)
}

// AuthError is a connection-time authentication failure. It always carries
// an HTTP-style status so the transport can close the handshake with a
// structured reason.
type AuthError struct {
	Reason string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func authError(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Status: 401, Err: err}
}
