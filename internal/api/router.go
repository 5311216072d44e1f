package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/api/handler"
	"github.com/qs3c/kanchana_server/internal/api/middleware"
	"github.com/qs3c/kanchana_server/internal/pkg/ratelimit"
)

type Router struct {
	chatHandler      *handler.ChatHandler
	quotaHandler     *handler.QuotaHandler
	modesHandler     *handler.ModesHandler
	userHandler      *handler.UserHandler
	websocketHandler *handler.WebSocketHandler
	chatLimiter      *ratelimit.Limiter
	guestLimiter     *ratelimit.Limiter
	cfg              *config.Config
}

func NewRouter(
	chatHandler *handler.ChatHandler,
	quotaHandler *handler.QuotaHandler,
	modesHandler *handler.ModesHandler,
	userHandler *handler.UserHandler,
	websocketHandler *handler.WebSocketHandler,
	chatLimiter *ratelimit.Limiter,
	guestLimiter *ratelimit.Limiter,
	cfg *config.Config,
) *Router {
	return &Router{
		chatHandler:      chatHandler,
		quotaHandler:     quotaHandler,
		modesHandler:     modesHandler,
		userHandler:      userHandler,
		websocketHandler: websocketHandler,
		chatLimiter:      chatLimiter,
		guestLimiter:     guestLimiter,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/v1")
	{
		// WebSocket 聊天事件推送
		api.GET("/ws", r.websocketHandler.Handle)

		// 聊天 - 访客可用
		chatPublic := api.Group("/chat")
		chatPublic.Use(middleware.OptionalAuth(r.cfg.JWT.Secret), middleware.GuestIdentity())
		{
			chatPublic.POST("/message", middleware.ChatRateLimit(r.chatLimiter, r.guestLimiter), r.chatHandler.SendMessage)
			chatPublic.GET("/usage", r.quotaHandler.GetUsage)
			chatPublic.GET("/modes", r.modesHandler.List)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			chat := authenticated.Group("/chat")
			{
				chat.GET("/history", r.chatHandler.GetHistory)
				chat.DELETE("/history", r.chatHandler.ClearHistory)
			}

			user := authenticated.Group("/user")
			{
				user.GET("/profile", r.userHandler.GetProfile)
				user.PUT("/profile", r.userHandler.UpdateProfile)
			}
		}
	}

	return engine
}
