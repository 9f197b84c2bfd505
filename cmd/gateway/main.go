package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bmms/bmms-server/cmd/gateway/middleware"
	"github.com/bmms/bmms-server/internal/auth"
	"github.com/bmms/bmms-server/internal/catalog"
	"github.com/bmms/bmms-server/internal/common"
	"github.com/bmms/bmms-server/internal/download"
	"github.com/bmms/bmms-server/internal/pipeline"
	"github.com/bmms/bmms-server/internal/remote"
	"github.com/bmms/bmms-server/internal/storage"
	"github.com/bmms/bmms-server/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("starting bmms gateway")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer cache.Close()

	uploads, err := storage.NewStore(cfg.Pipeline.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create upload store")
	}
	outputs, err := storage.NewStore(cfg.Pipeline.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create output store")
	}

	remoteClient := remote.NewClient(&cfg.Remote)
	catalogService := catalog.NewService(db.DB)
	downloader := download.NewDownloader(remoteClient)
	pipelineService := pipeline.NewService(remoteClient, remoteClient, downloader,
		catalogService, uploads, outputs, cfg.Pipeline)
	authService := auth.NewService(db, cache, &cfg.Auth)

	router := setupRouter(authService, pipelineService, catalogService, remoteClient, remoteClient, uploads, cache, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server shutdown complete")
	}
}

func setupRouter(authService *auth.Service, pipelineService *pipeline.Service,
	catalogService *catalog.Service, store remote.ContentStore,
	derivs remote.DerivativeService, uploads *storage.Store,
	cache *common.Cache, cfg *config.Config) *gin.Engine {

	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "bmms-gateway",
			"time":    time.Now().UTC(),
		})
	})

	objects := newObjectHandlers(store, derivs, cache, cfg.Pipeline)

	api := router.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", handleRegister(authService))
			authGroup.POST("/login", handleLogin(authService))
		}

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(authService))
		{
			protected.POST("/files", handleStageFile(uploads))
			protected.GET("/files", handleListStagedFiles(uploads))
			protected.GET("/models", handleListModels(catalogService))
			protected.GET("/objects", objects.handleListObjects)
			protected.GET("/objects/:name", objects.handleGetObject)

			pipe := protected.Group("/pipeline")
			{
				pipe.GET("/upload/:name", handleUploadStream(pipelineService))
				pipe.GET("/translate/:name", handleTranslateStream(pipelineService))
				pipe.GET("/extract/:name", handleExtractStream(pipelineService))
			}
		}
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
