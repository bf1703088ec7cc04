package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/buzz-im/buzz-server/internal/auth"
	"github.com/buzz-im/buzz-server/internal/config"
	"github.com/buzz-im/buzz-server/internal/core"
	"github.com/buzz-im/buzz-server/internal/session"
	"github.com/buzz-im/buzz-server/internal/store"
)

// NewServer builds the HTTP server: the REST API, the health probe, and the
// realtime WebSocket endpoint.
func NewServer(cfg *config.Config, hub *core.Hub, bridge *session.Bridge, authService *auth.Service, st store.Store, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger), CORSMiddleware(cfg.WebDomain))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := NewAPIHandlers(authService, st, bridge, hub, cfg.SessionTTL, logger)
	chat := NewChatHandlers(st, hub, logger)
	ws := NewWSHandler(hub, bridge, logger)

	v1 := router.Group("/v1")

	v1.GET("/io", gin.WrapH(ws))

	authGroup := v1.Group("/user/auth")
	authGroup.Use(RateLimitMiddleware(cfg.AuthRateLimit))
	{
		authGroup.POST("/signup", api.Signup)
		authGroup.POST("/login", api.Login)
		authGroup.POST("/logout", api.Logout)
		authGroup.GET("/session", api.SessionInfo)
	}

	// Availability checks run pre-signup, so they stay public.
	v1.GET("/user/data/check/handle-availability", api.HandleAvailability)

	authed := AuthMiddleware(authService, logger)

	dataGroup := v1.Group("/user/data", authed)
	{
		dataGroup.GET("/search/users", api.SearchUsers)
	}

	chatGroup := v1.Group("/chat", authed)
	{
		chatGroup.POST("/send/message", chat.SendMessage)
		chatGroup.POST("/create/chat", chat.CreateChat)
		chatGroup.POST("/create/group", chat.CreateGroup)
		chatGroup.POST("/join/group", chat.JoinGroup)
		chatGroup.GET("/get/chats", chat.ListChats)
		chatGroup.GET("/get/members", chat.ListMembers)
		chatGroup.GET("/get/messages", chat.ListChatMessages)
	}

	adminGroup := v1.Group("/admin", authed)
	{
		adminGroup.GET("/connections", api.ListConnections)
	}

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
