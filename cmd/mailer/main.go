package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"mailer/internal/config"
	"mailer/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(os.Stdout, cfg.IsDevelopment(), cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting mailer service",
		"env", cfg.App.Env,
		"provider", cfg.Email.Provider,
		"http_port", cfg.HTTP.Port,
		"kafka_enabled", cfg.KafkaEnabled(),
		"event_store_enabled", cfg.Postgres.DSN != "",
		"redis_metrics_enabled", cfg.Redis.Addr != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Mailer service failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Mailer service stopped")
}
