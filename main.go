package main

import (
	"log"

	"go.uber.org/zap"

	"messaging-service/internal/app"
	"messaging-service/internal/config"
	"messaging-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting",
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Environment),
		zap.String("store", cfg.StoreDriver),
	)
	app.New(cfg, logger).Run()
}
