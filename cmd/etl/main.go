package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/covid-series-etl/internal/adapter/csse"
	httpadapter "github.com/couchcryptid/covid-series-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/covid-series-etl/internal/adapter/kafka"
	"github.com/couchcryptid/covid-series-etl/internal/cache"
	"github.com/couchcryptid/covid-series-etl/internal/config"
	"github.com/couchcryptid/covid-series-etl/internal/observability"
	"github.com/couchcryptid/covid-series-etl/internal/pipeline"
	"github.com/joho/godotenv"
)

func main() {
	// A local .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	client := csse.NewClient(cfg, metrics, logger)
	store := cache.New(cfg.CacheCapacity, cfg.RecentCacheTTL, metrics)
	store.Start()
	defer store.Stop()

	// Snapshot sink is feature-flagged via KAFKA_BROKERS.
	var publisher pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("snapshot sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("snapshot sink disabled")
	}

	svc := pipeline.New(client, store, publisher, pipeline.OptionsFromConfig(cfg), logger, metrics)
	defer svc.Close()

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start refresh loop.
	go func() {
		if err := svc.Run(ctx); err != nil {
			logger.Error("refresh loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
