package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buzz-im/buzz-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when handle/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrHandleTaken is returned when signing up with an existing handle.
	ErrHandleTaken = errors.New("handle already taken")
	// ErrInvalidHandle is returned when the handle doesn't meet constraints.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrInvalidPassword is returned when the password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

var handleRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.]{2,31}$`)

// Result is what a successful signup or login yields: the user, an opaque
// session token (used by the realtime handshake and logout), and a signed
// access token for stateless REST authentication.
type Result struct {
	User        *store.User
	SessionID   string
	AccessToken string
}

// Service provides signup, login, and session issuance.
type Service struct {
	users      store.UserStore
	sessions   store.SessionStore
	jwtConfig  *JWTConfig
	sessionTTL time.Duration
}

// NewService creates the authentication service.
func NewService(users store.UserStore, sessions store.SessionStore, jwtConfig *JWTConfig, sessionTTL time.Duration) *Service {
	return &Service{
		users:      users,
		sessions:   sessions,
		jwtConfig:  jwtConfig,
		sessionTTL: sessionTTL,
	}
}

// Signup creates a user and issues a session plus access token.
func (s *Service) Signup(ctx context.Context, handle, password string) (*Result, error) {
	handle = strings.TrimSpace(strings.ToLower(handle))
	if !handleRe.MatchString(handle) {
		return nil, ErrInvalidHandle
	}
	if len(password) < 6 {
		return nil, ErrInvalidPassword
	}

	if existing, err := s.users.GetUserByHandle(ctx, handle); err == nil && existing != nil {
		return nil, ErrHandleTaken
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, handle, hashed)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.issue(ctx, user)
}

// Login validates credentials and issues a session plus access token.
func (s *Service) Login(ctx context.Context, handle, password string) (*Result, error) {
	handle = strings.TrimSpace(strings.ToLower(handle))

	user, err := s.users.GetUserByHandle(ctx, handle)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(ctx, user)
}

// Logout revokes the session. Revoking an unknown session is a no-op.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ValidateToken validates an access token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

func (s *Service) issue(ctx context.Context, user *store.User) (*Result, error) {
	sessionID := uuid.NewString()
	if _, err := s.sessions.CreateSession(ctx, sessionID, user.ID, time.Now().Add(s.sessionTTL)); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Handle)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &Result{
		User:        user,
		SessionID:   sessionID,
		AccessToken: token,
	}, nil
}
