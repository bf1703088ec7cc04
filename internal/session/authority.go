package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/buzz-im/buzz-server/internal/store"
)

// StoreAuthority resolves sessions from the persistence layer. It is the
// read side only; issuing and revoking sessions belongs to the auth service.
type StoreAuthority struct {
	sessions store.SessionStore
}

// NewStoreAuthority builds an authority over the session store.
func NewStoreAuthority(sessions store.SessionStore) *StoreAuthority {
	return &StoreAuthority{sessions: sessions}
}

// Resolve implements Authority.
func (a *StoreAuthority) Resolve(ctx context.Context, sessionID string) (*Session, error) {
	s, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &Session{
		ID:        s.ID,
		UserID:    s.UserID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}, nil
}
