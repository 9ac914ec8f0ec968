// Package main provides the API server entry point for the presence engine.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/presence-engine/internal/api"
	"github.com/presence-engine/internal/config"
	"github.com/presence-engine/internal/gateway"
	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/points"
	"github.com/presence-engine/internal/service"
	"github.com/presence-engine/internal/storage"
	"github.com/presence-engine/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize repositories
	txRunner := storage.NewTxRunner(postgres)
	userRepo := storage.NewUserRepository(postgres)
	sessionRepo := storage.NewSessionRepository(postgres)
	settingsRepo := storage.NewSettingsRepository(postgres)
	publicationRepo := storage.NewPublicationRepository(postgres)
	adjustmentRepo := storage.NewAdjustmentRepository(postgres)
	submissionRepo := storage.NewSubmissionRepository(postgres)
	leaderboardCache := storage.NewLeaderboardCache(redis, 10*time.Minute)

	// Platform collaborators
	platform := gateway.NewPlatformClient(&cfg.Platform)
	notifier := gateway.NewLoggingNotifier(logger)

	// Initialize services
	logger.Info("Initializing services...")

	calc := points.NewCalculator(&cfg.Points)

	leaderboardService := service.NewLeaderboardService(
		userRepo,
		publicationRepo,
		leaderboardCache,
		platform,
		notifier,
		cfg.Engine.PublishRate,
		cfg.Engine.PublishBurst,
	)

	publishWorker := worker.NewPublishWorker(leaderboardService, cfg.Engine.PublishQueue)

	lifecycleService := service.NewLifecycleService(
		txRunner,
		userRepo,
		sessionRepo,
		calc,
		publishWorker,
		notifier,
		cfg.Engine.StreakThreshold,
	)

	reconcileService := service.NewReconcileService(
		lifecycleService.Locks(),
		txRunner,
		userRepo,
		sessionRepo,
		platform,
		calc,
		publishWorker,
		notifier,
		cfg.Engine.ResumableAge,
	)

	resetService := service.NewResetService(
		lifecycleService.Locks(),
		txRunner,
		userRepo,
		sessionRepo,
		settingsRepo,
		platform,
		calc,
		publishWorker,
		notifier,
		cfg.Engine.ResetInterval,
	)

	adjustmentService := service.NewAdjustmentService(
		lifecycleService.Locks(),
		txRunner,
		userRepo,
		adjustmentRepo,
		publishWorker,
	)

	auditService := service.NewAuditService(
		userRepo,
		sessionRepo,
		settingsRepo,
		adjustmentRepo,
		submissionRepo,
	)

	logger.Info("Services initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the publish worker before reconciliation so refresh requests from
	// the scan are drained.
	publishWorker.Start(ctx)
	defer publishWorker.Stop()

	// Reconcile stored sessions against observed presence before accepting
	// live events.
	logger.Info("Running startup reconciliation...")
	summary, err := reconcileService.Reconcile(logging.WithLogger(ctx, logger))
	if err != nil {
		logger.WithError(err).Fatal("Startup reconciliation failed")
	}
	logger.WithFields(map[string]interface{}{
		"resumed":         summary.Resumed,
		"closedTracked":   summary.ClosedTracked,
		"closedUntracked": summary.ClosedUntracked,
		"opened":          summary.Opened,
	}).Info("Startup reconciliation complete")

	// Start the scheduled resets
	if err := resetService.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start reset scheduler")
	}
	defer func() {
		if err := resetService.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop reset scheduler")
		}
	}()

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	server := api.NewServer(
		serverConfig,
		lifecycleService,
		leaderboardService,
		adjustmentService,
		auditService,
		reconcileService,
	)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
