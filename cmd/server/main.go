package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/runrevr/imagerefresh/internal/admin"
	"github.com/runrevr/imagerefresh/internal/api"
	"github.com/runrevr/imagerefresh/internal/config"
	"github.com/runrevr/imagerefresh/internal/database"
	"github.com/runrevr/imagerefresh/internal/provider"
	"github.com/runrevr/imagerefresh/internal/repository"
	"github.com/runrevr/imagerefresh/internal/service"
	"github.com/runrevr/imagerefresh/internal/storage"
	"github.com/runrevr/imagerefresh/internal/telemetry"
	"github.com/runrevr/imagerefresh/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(slog.LevelInfo)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)

	providerClient := provider.NewClient(cfg, logr)

	identityRepo := repository.NewIdentityRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	imageRepo := repository.NewImageRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	promoRepo := repository.NewPromoRepository(db)
	packRepo := repository.NewPackRepository(db)

	identityService := service.NewIdentityService(identityRepo)
	creditService := service.NewCreditService(creditRepo, logr, metrics)
	imageService := service.NewImageService(imageRepo, requestRepo, uploader, logr, metrics, cfg.MaxUploadBytes, cfg.RetentionDays)
	transformService := service.NewTransformService(cfg, logr, metrics, creditService, imageService, providerClient, requestRepo)
	promoService := service.NewPromoService(promoRepo)
	packService := service.NewPackService(packRepo)

	apiServer := api.NewServer(cfg.ListenAddr, logr, identityService, creditService, imageService, transformService, promoService, packService, cfg.MaxUploadBytes)
	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, registry, identityService, creditService, imageService, promoService, packService, requestRepo)

	go runPurgeSweep(ctx, logr, imageService, cfg.PurgeInterval)

	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := apiServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}

// runPurgeSweep removes expired images on a schedule so retention never runs
// inline with request handling.
func runPurgeSweep(ctx context.Context, logr *slog.Logger, images *service.ImageService, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := images.PurgeExpired(ctx); err != nil {
				logr.Error("purge sweep failed", "err", err)
			}
		}
	}
}
