package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/auth"
	"github.com/parley-chat/parley-server/internal/config"
	"github.com/parley-chat/parley-server/internal/core"
	"github.com/parley-chat/parley-server/internal/store"
	"github.com/parley-chat/parley-server/internal/voice/livekit"
)

// ServerDeps carries everything the HTTP server routes into.
type ServerDeps struct {
	Store       store.Store
	Dispatcher  *core.Dispatcher
	Sessions    *core.SessionManager
	Directory   *core.ChannelDirectory
	AuthService *auth.Service
	Voice       *livekit.TokenProvider
}

// NewServer builds the HTTP server with all routes registered.
func NewServer(cfg *config.Config, deps ServerDeps, logger *zerolog.Logger) (*stdhttp.Server, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	api := NewAPIHandlers(deps.AuthService, deps.Store, logger)
	channels := NewChannelHandlers(deps.Store, deps.Directory, deps.Voice, logger)
	uploads, err := NewUploadHandlers(cfg.UploadDir, logger)
	if err != nil {
		return nil, err
	}

	wsHandler := NewWSHandler(deps.Dispatcher, deps.Sessions, deps.AuthService, cfg.DefaultServer, cfg.EventBuffer, cfg.WriteTimeout, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)

	router.GET("/ws", gin.WrapH(wsHandler))
	router.Static("/uploads", cfg.UploadDir)

	authorized := router.Group("/api")
	authorized.Use(AuthMiddleware(deps.AuthService, logger))
	{
		authorized.PUT("/profile", api.UpdateProfile)
		authorized.POST("/upload", uploads.Upload)
		authorized.POST("/invites", channels.CreateInvite)
		authorized.POST("/invites/:code/accept", channels.AcceptInvite)
		authorized.GET("/servers", channels.ListServers)
		authorized.GET("/servers/:server/emotes", channels.ListEmotes)
		authorized.POST("/servers/:server/emotes", channels.CreateEmote)
		authorized.GET("/servers/:server/roles", channels.ListRoles)
		authorized.POST("/servers/:server/roles", channels.CreateRole)
		authorized.GET("/channels/:channel/bans", channels.ListBans)
		authorized.POST("/channels/:channel/bans", channels.BanUser)
		authorized.DELETE("/channels/:channel/bans/:username", channels.UnbanUser)
		authorized.GET("/voice/:channel/token", channels.VoiceToken)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}, nil
}
