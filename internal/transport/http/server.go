package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley-server/internal/auth"
	"github.com/parleychat/parley-server/internal/config"
	"github.com/parleychat/parley-server/internal/core"
	"github.com/parleychat/parley-server/internal/store"
)

// NewServer builds the HTTP server: auth API, room API and the websocket
// endpoint the chat engine lives behind.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(st, logger, cfg.HistoryLimit)

	api := router.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)
		api.POST("/guest", apiHandlers.GuestLogin)

		authorized := api.Group("")
		authorized.Use(AuthMiddleware(authService, logger))
		{
			authorized.POST("/rooms", roomHandlers.CreateRoom)
			authorized.GET("/rooms", roomHandlers.ListRooms)
			authorized.GET("/rooms/:name/messages", roomHandlers.ListMessages)
		}
	}

	router.GET("/ws", gin.WrapH(NewWSHandler(hub, authService, logger, cfg.WSMessagesPerMinute)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
