package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/buzz-im/buzz-server/internal/store"
	"github.com/buzz-im/buzz-server/internal/store/sqlite"
)

func newTestService(t *testing.T) (*Service, *sqlite.SQLiteStore) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}

	return NewService(st, st, jwtConfig, 24*time.Hour), st
}

func TestSignup_RejectsInvalidHandle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, handle := range []string{"ab", "_leading", "has space", "UPPER CASE!"} {
		if _, err := svc.Signup(ctx, handle, "password123"); !errors.Is(err, ErrInvalidHandle) {
			t.Fatalf("handle %q: expected ErrInvalidHandle, got %v", handle, err)
		}
	}
}

func TestSignup_RejectsShortPassword(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Signup(context.Background(), "alice", "12345"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestSignup_IssuesSessionAndToken(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	res, err := svc.Signup(ctx, " Alice ", "password123")
	if err != nil {
		t.Fatalf("expected signup success, got %v", err)
	}
	if res.User.Handle != "alice" {
		t.Fatalf("expected normalized handle, got %q", res.User.Handle)
	}
	if res.SessionID == "" || res.AccessToken == "" {
		t.Fatalf("expected session and token, got %+v", res)
	}

	// The session resolves back to the user.
	sess, err := st.GetSession(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.UserID != res.User.ID {
		t.Fatalf("session user mismatch: %q != %q", sess.UserID, res.User.ID)
	}

	// The access token carries the identity claims.
	claims, err := svc.ValidateToken(res.AccessToken)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != res.User.ID || claims.Handle != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// Same handle again collides.
	if _, err := svc.Signup(ctx, "alice", "password123"); !errors.Is(err, ErrHandleTaken) {
		t.Fatalf("expected ErrHandleTaken, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, "alice", "password123"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	res, err := svc.Signup(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	if err := svc.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := st.GetSession(ctx, res.SessionID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}

	// Logout is idempotent.
	if err := svc.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}
