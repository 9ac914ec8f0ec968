// Package main provides a CLI tool for running the counter integrity audit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/presence-engine/internal/config"
	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/service"
	"github.com/presence-engine/internal/storage"
)

func main() {
	verbose := flag.Bool("verbose", false, "Print the full report even when clean")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	auditService := service.NewAuditService(
		storage.NewUserRepository(postgres),
		storage.NewSessionRepository(postgres),
		storage.NewSettingsRepository(postgres),
		storage.NewAdjustmentRepository(postgres),
		storage.NewSubmissionRepository(postgres),
	)

	ctx := logging.WithLogger(context.Background(), logger)
	report, err := auditService.Audit(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Audit failed")
	}

	if len(report.Discrepancies) == 0 && !*verbose {
		logger.WithField("usersAudited", report.UsersAudited).Info("Audit clean")
		return
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		logger.WithError(err).Fatal("Failed to print report")
	}

	// A dirty store is a non-zero exit so cron jobs can page on it.
	if len(report.Discrepancies) > 0 {
		os.Exit(1)
	}
}
