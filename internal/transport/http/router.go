package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/health"
	"tempmail/inbox/internal/middleware"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/service"
	"tempmail/inbox/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	inboxes  *service.InboxService
	messages *service.MessageService
	ingest   *service.IngestService
	health   *health.HealthChecker
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	InboxService   *service.InboxService
	MessageService *service.MessageService
	IngestService  *service.IngestService
	Metrics        *monitoring.Metrics
	Health         *health.HealthChecker // 为 nil 时不注册 /live、/ready
	WebSocketHub   *websocket.Hub        // 为 nil 时不注册 /ws
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	router := gin.New()
	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	router.Use(middleware.RequestID())
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())

	// 邮件入库接口携带 base64 附件，单独放宽
	ingestLimit := deps.Config.SMTP.MaxMessageBytes * 2
	if ingestLimit <= 0 {
		ingestLimit = middleware.DefaultBodyLimit
	}
	router.Use(middleware.RouteBodySizeLimit(map[string]int64{
		"/api/v1/messages": ingestLimit,
	}, middleware.SmallBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		inboxes:  deps.InboxService,
		messages: deps.MessageService,
		ingest:   deps.IngestService,
		health:   deps.Health,
	}

	router.GET("/health", handler.healthStatus)
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	if deps.Health != nil {
		router.GET("/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}

	createLimit := []gin.HandlerFunc{}
	if perMinute := deps.Config.RateLimit.CreatePerMinute; perMinute > 0 {
		createLimit = append(createLimit, middleware.NewIPRateLimiter(perMinute).Middleware())
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/domains", handler.listDomains)
		v1.GET("/stats", handler.globalStats)
		v1.POST("/messages", handler.ingestMessage)

		if deps.WebSocketHub != nil {
			v1.GET("/ws", deps.WebSocketHub.Handle())
		}

		inboxRoutes := v1.Group("/inboxes")
		{
			inboxRoutes.POST("", append(createLimit, handler.createInbox)...)
			inboxRoutes.GET("/check", handler.checkUsername)

			inboxRoutes.GET("/:address", handler.getInbox)
			inboxRoutes.DELETE("/:address", handler.deleteInbox)
			inboxRoutes.POST("/:address/extend", handler.extendInbox)
			inboxRoutes.PUT("/:address/forward", handler.setForward)
			inboxRoutes.GET("/:address/stats", handler.inboxStats)

			inboxRoutes.GET("/:address/messages", handler.listMessages)
			inboxRoutes.DELETE("/:address/messages", handler.deleteAllMessages)
			inboxRoutes.GET("/:address/messages/:id", handler.getMessage)
			inboxRoutes.DELETE("/:address/messages/:id", handler.deleteMessage)

			inboxRoutes.GET("/:address/trash", handler.listTrash)
			inboxRoutes.POST("/:address/trash/:id/restore", handler.restoreMessage)
			inboxRoutes.DELETE("/:address/trash/:id", handler.purgeMessage)
		}
	}

	return router
}
