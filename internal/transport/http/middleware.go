package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/buzz-im/buzz-server/internal/auth"
)

const (
	// ContextKeyUserID is the context key for storing the user id.
	ContextKeyUserID = "user_id"
	// ContextKeyHandle is the context key for storing the user handle.
	ContextKeyHandle = "handle"
)

// AuthMiddleware creates a middleware that validates access tokens.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyHandle, claims.Handle)

		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// currentUser pulls the authenticated identity out of the gin context.
func currentUser(c *gin.Context) (userID, handle string, ok bool) {
	uid, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", "", false
	}
	userID, ok = uid.(string)
	if !ok {
		return "", "", false
	}
	if h, exists := c.Get(ContextKeyHandle); exists {
		handle, _ = h.(string)
	}
	return userID, handle, true
}
