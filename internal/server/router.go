package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yamabiko/tabiroku-backend/internal/handlers"
	"github.com/yamabiko/tabiroku-backend/internal/middleware"
	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log              *logger.Logger
	AllowedOrigins   []string
	GrantHandler     *handlers.GrantHandler
	TranscodeHandler *handlers.TranscodeHandler
	EventHandler     *handlers.EventHandler
	// ServiceAuth guards the push endpoints; nil leaves them open (local dev).
	ServiceAuth gin.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(cfg.Log))
	router.HandleMethodNotAllowed = true

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	// Client-facing grant endpoints: identity token in the Authorization header,
	// verified by the grant service itself.
	router.POST("/upload-url", cfg.GrantHandler.IssueUploadURL)
	router.POST("/download-url", cfg.GrantHandler.IssueDownloadURL)

	// Push endpoints: the task queue and event delivery authenticate with a
	// service identity.
	pushed := router.Group("/")
	if cfg.ServiceAuth != nil {
		pushed.Use(cfg.ServiceAuth)
	}
	pushed.POST("/transcode", cfg.TranscodeHandler.Transcode)
	pushed.POST("/events/storage", cfg.EventHandler.StorageFinalized)
	pushed.POST("/events/asset-written", cfg.EventHandler.AssetWritten)

	return router
}
