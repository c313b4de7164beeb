package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mapleportal/internal/bootstrap"
	"mapleportal/internal/transport/http/handler"
	"mapleportal/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.Recovery(app.Logger), middleware.ZapLogger(app.Logger))

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatHandler := handler.NewChatHandler(app.Chat, app.Logger)
	chat := router.Group("/")
	chat.Use(middleware.RateLimit(app.Config.App.ChatRateLimit, app.Config.App.ChatRateBurst))
	chat.POST("/generate", chatHandler.Generate)
	chat.POST("/stream", chatHandler.Stream)

	router.GET("/sessions/:id", chatHandler.GetSession)
	router.DELETE("/sessions/:id", chatHandler.DeleteSession)

	ragHandler := handler.NewRAGHandler(app.RAGAdmin)
	admin := router.Group("/admin/rag")
	admin.Use(middleware.AdminJWT(app.Config.Admin.JWTSecret))
	admin.POST("/reindex", ragHandler.Reindex)
	admin.GET("/stats", ragHandler.Stats)
	admin.POST("/documents", ragHandler.Upload)
	admin.DELETE("/documents/:id", ragHandler.DeleteDocument)
	admin.DELETE("/collection", ragHandler.ClearCollection)

	if app.Threads != nil && app.Messages != nil {
		archiveHandler := handler.NewArchiveHandler(app.Threads, app.Messages)
		archive := router.Group("/admin/archive")
		archive.Use(middleware.AdminJWT(app.Config.Admin.JWTSecret))
		archive.GET("/threads", archiveHandler.ListThreads)
		archive.GET("/threads/:id", archiveHandler.GetThread)
		archive.DELETE("/threads/:id", archiveHandler.DeleteThread)
	}

	return router
}
