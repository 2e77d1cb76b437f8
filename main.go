package main

import (
	"log"
	"time"

	"paper-showcase/config"
	"paper-showcase/database"
	authapi "paper-showcase/internal/api/auth"
	"paper-showcase/internal/api/papers"
	routes "paper-showcase/internal/app/http"
	"paper-showcase/internal/infra/durable"
	"paper-showcase/internal/infra/imagecodec"
	"paper-showcase/internal/infra/logging"
	"paper-showcase/internal/infra/mirror"
	"paper-showcase/internal/infra/snapshot"
	"paper-showcase/internal/reconcile"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// gin.SetMode(gin.ReleaseMode) uncomment only in production
	cfg, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(cfg.DBURL, logger)
	if err != nil {
		// the engine keeps serving from the mirror
		logger.Error("durable tier unavailable", zap.Error(err))
	}

	mirrorOpts := []mirror.Option{mirror.WithLogger(logger)}
	if cfg.MirrorPath != "" {
		mirrorOpts = append(mirrorOpts, mirror.WithFile(cfg.MirrorPath))
	}
	mir, err := mirror.New(cfg.MirrorQuotaBytes, mirrorOpts...)
	if err != nil {
		logger.Fatal("mirror", zap.Error(err))
	}

	opts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithCodec(imagecodec.New(cfg.ImageMaxDimension, cfg.ImageQuality)),
	}
	if cfg.SnapshotBaseURL != "" {
		mode, err := snapshot.ParseMode(cfg.SnapshotMode)
		if err != nil {
			logger.Fatal("snapshot", zap.Error(err))
		}
		src, err := snapshot.New(snapshot.Config{
			BaseURL:  cfg.SnapshotBaseURL,
			Mode:     mode,
			PageSize: cfg.SnapshotPageSize,
			Timeout:  cfg.SnapshotTimeout,
			CacheTTL: cfg.SnapshotCacheTTL,
		}, logger)
		if err != nil {
			logger.Fatal("snapshot", zap.Error(err))
		}
		opts = append(opts, reconcile.WithRemote(src))
	}
	engine := reconcile.New(durable.New(db, logger), mir, opts...)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	secret := []byte(cfg.JWTSecret)
	routes.RegisterRoutes(r, routes.Deps{
		Auth: &authapi.Handler{
			Username:     cfg.AdminUsername,
			PasswordHash: cfg.AdminPasswordHash,
			Secret:       secret,
			Log:          logger,
		},
		Papers: &papers.Handler{Engine: engine, Log: logger},
		Secret: secret,
	})

	logger.Info("listening", zap.String("port", cfg.Port), zap.Bool("remote", cfg.SnapshotBaseURL != ""))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
}
