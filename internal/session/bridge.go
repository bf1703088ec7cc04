package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Bridge authenticates connection handshakes against the session Authority.
// It runs exactly once per connection, before the connection is admitted to
// the registry; no room or fan-out operation is reachable before it passes.
type Bridge struct {
	authority Authority
	log       *zerolog.Logger
}

// NewBridge builds a bridge over the given authority.
func NewBridge(authority Authority, logger *zerolog.Logger) *Bridge {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bridge{authority: authority, log: logger}
}

// Authenticate resolves an opaque session token to a user identity.
// Failures are always *AuthError with a reason code:
//   - missing_credentials: no token supplied
//   - invalid_session: token unknown, expired, or without an identity
//   - internal: the authority call itself failed (not retryable here)
func (b *Bridge) Authenticate(ctx context.Context, sessionToken string) (string, error) {
	if sessionToken == "" {
		b.log.Warn().Msg("handshake without session token")
		return "", authError(ReasonMissingCredentials, nil)
	}

	sess, err := b.authority.Resolve(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			b.log.Warn().Msg("handshake with unknown session")
			return "", authError(ReasonInvalidSession, err)
		}
		b.log.Error().Err(err).Msg("session authority failure")
		return "", authError(ReasonInternal, err)
	}
	if sess == nil || sess.UserID == "" || sess.Expired(time.Now()) {
		b.log.Warn().Msg("handshake with inactive session")
		return "", authError(ReasonInvalidSession, nil)
	}

	b.log.Debug().Str("user_id", sess.UserID).Msg("handshake authenticated")
	return sess.UserID, nil
}
