package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/buzz-im/buzz-server/internal/auth"
	"github.com/buzz-im/buzz-server/internal/core"
	"github.com/buzz-im/buzz-server/internal/session"
	"github.com/buzz-im/buzz-server/internal/store"
)

// SessionCookieName holds the opaque session token for browser clients.
// Non-browser clients pass the same token in the X-Session-Token header.
const SessionCookieName = "buzz_session"

// ErrorResponse is the uniform error body for REST endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CredentialsRequest is the signup and login body.
type CredentialsRequest struct {
	Handle   string `json:"handle" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned on successful signup or login. The session token
// authenticates the realtime handshake; the access token authenticates REST.
type AuthResponse struct {
	UserID       string `json:"user_id"`
	Handle       string `json:"handle"`
	SessionToken string `json:"session_token"`
	AccessToken  string `json:"access_token"`
}

// LogoutRequest optionally names the session to revoke; the cookie is used
// when the body is empty.
type LogoutRequest struct {
	SessionToken string `json:"session_token"`
}

// SessionInfoResponse describes the identity behind a session token.
type SessionInfoResponse struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
}

// HandleAvailabilityResponse reports whether a handle is free to register.
type HandleAvailabilityResponse struct {
	Handle    string `json:"handle"`
	Available bool   `json:"available"`
}

// UserSummary is the public view of a user.
type UserSummary struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
}

// SearchUsersResponse lists users matching a handle prefix.
type SearchUsersResponse struct {
	Users []UserSummary `json:"users"`
}

// ConnectionsResponse is the diagnostic listing of live connections.
type ConnectionsResponse struct {
	Connections []core.ConnectionInfo `json:"connections"`
}

// APIHandlers serves authentication and user data endpoints.
type APIHandlers struct {
	auth       *auth.Service
	users      store.UserStore
	bridge     *session.Bridge
	hub        *core.Hub
	sessionTTL time.Duration
	log        *zerolog.Logger
}

// NewAPIHandlers creates the REST handlers for auth and user data.
func NewAPIHandlers(authService *auth.Service, users store.UserStore, bridge *session.Bridge, hub *core.Hub, sessionTTL time.Duration, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		auth:       authService,
		users:      users,
		bridge:     bridge,
		hub:        hub,
		sessionTTL: sessionTTL,
		log:        logger,
	}
}

// Signup handles POST /v1/user/auth/signup.
func (h *APIHandlers) Signup(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "handle and password are required"})
		return
	}

	result, err := h.auth.Signup(c.Request.Context(), req.Handle, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidHandle):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "handle must be 3-32 chars: lowercase letters, digits, dot, underscore"})
		case errors.Is(err, auth.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "password must be at least 6 characters"})
		case errors.Is(err, auth.ErrHandleTaken):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "handle already taken"})
		default:
			h.log.Error().Err(err).Msg("signup failed")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		}
		return
	}

	h.setSessionCookie(c, result.SessionID)
	c.JSON(http.StatusCreated, authResponse(result))
}

// Login handles POST /v1/user/auth/login.
func (h *APIHandlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "handle and password are required"})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Handle, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Msg("login failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	h.setSessionCookie(c, result.SessionID)
	c.JSON(http.StatusOK, authResponse(result))
}

// Logout handles POST /v1/user/auth/logout. Revoking an already revoked
// session still succeeds.
func (h *APIHandlers) Logout(c *gin.Context) {
	var req LogoutRequest
	_ = c.ShouldBindJSON(&req)

	token := req.SessionToken
	if token == "" {
		token = h.sessionToken(c)
	}

	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		h.log.Error().Err(err).Msg("logout failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.SetCookie(SessionCookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"confirmation": true})
}

// SessionInfo handles GET /v1/user/auth/session: it resolves the caller's
// session token back to an identity, the same check the realtime handshake
// performs.
func (h *APIHandlers) SessionInfo(c *gin.Context) {
	userID, err := h.bridge.Authenticate(c.Request.Context(), h.sessionToken(c))
	if err != nil {
		reason := session.ReasonInternal
		status := http.StatusInternalServerError
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			reason = authErr.Reason
			status = authErr.Status
		}
		c.JSON(status, ErrorResponse{Error: reason})
		return
	}

	user, err := h.users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("session user lookup failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, SessionInfoResponse{UserID: user.ID, Handle: user.Handle})
}

// HandleAvailability handles GET /v1/user/data/check/handle-availability.
func (h *APIHandlers) HandleAvailability(c *gin.Context) {
	handle := strings.TrimSpace(strings.ToLower(c.Query("handle")))
	if handle == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "handle query parameter is required"})
		return
	}

	available, err := h.users.HandleAvailable(c.Request.Context(), handle)
	if err != nil {
		h.log.Error().Err(err).Msg("handle availability check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, HandleAvailabilityResponse{Handle: handle, Available: available})
}

// SearchUsers handles GET /v1/user/data/search/users.
func (h *APIHandlers) SearchUsers(c *gin.Context) {
	prefix := strings.TrimSpace(strings.ToLower(c.Query("q")))
	if prefix == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "q query parameter is required"})
		return
	}

	users, err := h.users.SearchUsers(c.Request.Context(), prefix)
	if err != nil {
		h.log.Error().Err(err).Msg("user search failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	summaries := lo.Map(users, func(u *store.User, _ int) UserSummary {
		return UserSummary{UserID: u.ID, Handle: u.Handle}
	})
	c.JSON(http.StatusOK, SearchUsersResponse{Users: summaries})
}

// ListConnections handles GET /v1/admin/connections.
func (h *APIHandlers) ListConnections(c *gin.Context) {
	c.JSON(http.StatusOK, ConnectionsResponse{Connections: h.hub.ListConnections()})
}

// sessionToken extracts the opaque session token from the cookie or the
// X-Session-Token header.
func (h *APIHandlers) sessionToken(c *gin.Context) string {
	if token, err := c.Cookie(SessionCookieName); err == nil && token != "" {
		return token
	}
	return c.GetHeader("X-Session-Token")
}

func (h *APIHandlers) setSessionCookie(c *gin.Context, sessionID string) {
	c.SetCookie(SessionCookieName, sessionID, int(h.sessionTTL.Seconds()), "/", "", false, true)
}

func authResponse(result *auth.Result) AuthResponse {
	return AuthResponse{
		UserID:       result.User.ID,
		Handle:       result.User.Handle,
		SessionToken: result.SessionID,
		AccessToken:  result.AccessToken,
	}
}
