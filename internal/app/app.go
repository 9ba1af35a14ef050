package app

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/yamabiko/tabiroku-backend/internal/handlers"
	"github.com/yamabiko/tabiroku-backend/internal/middleware"
	"github.com/yamabiko/tabiroku-backend/internal/platform/gcp"
	"github.com/yamabiko/tabiroku-backend/internal/platform/localmedia"
	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/server"
	"github.com/yamabiko/tabiroku-backend/internal/services"
)

type App struct {
	Log    *logger.Logger
	Cfg    Config
	Router *gin.Engine
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg := LoadConfig()
	if cfg.ProjectID == "" {
		log.Sync()
		return nil, fmt.Errorf("GCP_PROJECT_ID is required")
	}
	if cfg.RawBucket == "" {
		log.Sync()
		return nil, fmt.Errorf("RAW_BUCKET_NAME is required")
	}

	// Gateways
	bucket, err := gcp.NewBucketService(log, cfg.RawBucket, cfg.CDNDomain)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init bucket service: %w", err)
	}
	docs, err := gcp.NewDocumentStore(log, cfg.ProjectID)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init document store: %w", err)
	}
	queue, err := gcp.NewTaskQueue(log, gcp.TaskQueueConfig{
		ProjectID:       cfg.ProjectID,
		LocationID:      cfg.LocationID,
		QueueID:         cfg.QueueID,
		TargetURL:       cfg.TranscodeURL,
		InvokerSA:       cfg.InvokerSA,
		DispatchTimeout: cfg.EncodeTimeout,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init task queue: %w", err)
	}
	tools := localmedia.New(log, cfg.EncodeTimeout)

	// Services
	verifier, err := services.NewIDTokenVerifier(nil, cfg.AuthProjectID)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init id token verifier: %w", err)
	}
	grantSvc := services.NewGrantService(log, verifier, bucket, docs, cfg.SignTTL)
	ingestSvc := services.NewIngestService(log, docs, queue)
	transcodeSvc := services.NewTranscodeService(log, docs, bucket, tools)
	reconcileSvc := services.NewReconcileService(log, docs, bucket, cfg.ReconcilePageSize)

	// Handlers + router
	var serviceAuth gin.HandlerFunc
	if cfg.ServiceAudience != "" {
		stv, err := services.NewServiceTokenVerifier(nil, cfg.ServiceAudience, cfg.InvokerSA)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init service token verifier: %w", err)
		}
		serviceAuth = middleware.NewServiceAuthMiddleware(log, stv).RequireServiceIdentity()
	} else {
		log.Warn("SERVICE_AUDIENCE not set; push endpoints are unauthenticated")
	}

	router := server.NewRouter(server.RouterConfig{
		Log:              log,
		AllowedOrigins:   cfg.AllowedOrigins,
		GrantHandler:     handlers.NewGrantHandler(log, grantSvc),
		TranscodeHandler: handlers.NewTranscodeHandler(log, transcodeSvc),
		EventHandler:     handlers.NewEventHandler(log, ingestSvc, reconcileSvc),
		ServiceAuth:      serviceAuth,
	})

	return &App{Log: log, Cfg: cfg, Router: router}, nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Listening", "addr", a.Cfg.ListenAddr)
	return a.Router.Run(a.Cfg.ListenAddr)
}

func (a *App) Close() {
	if a != nil && a.Log != nil {
		a.Log.Sync()
	}
}
