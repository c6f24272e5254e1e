// Package main is the entry point for the StockGuard trust layer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockguard/internal/api"
	"stockguard/internal/archive"
	"stockguard/internal/auth"
	"stockguard/internal/config"
	"stockguard/internal/detector"
	"stockguard/internal/ledger"
	"stockguard/internal/logging"
	"stockguard/internal/notify"
	"stockguard/internal/schema"
	"stockguard/internal/storage"
	"stockguard/internal/throttle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Notify.Kafka.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Audit store: ClickHouse in production, memory for development.
	var (
		recordStore ledger.Store
		alertStore  detector.AlertStore
		chClient    *storage.ClickHouseClient
	)
	if cfg.Storage.Enabled {
		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			logger.Error("clickhouse connection failed", "error", err)
			os.Exit(1)
		}
		if err := chClient.EnsureDatabase(ctx); err != nil {
			logger.Error("database setup failed", "error", err)
			os.Exit(1)
		}
		if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		recordStore = storage.NewRecordStore(chClient)
		alertStore = storage.NewAlertStore(chClient)
		logger.Info("storage initialized", "database", cfg.Storage.ClickHouse.Database)
	} else {
		logger.Warn("storage disabled, audit records are held in memory only")
		memStore := ledger.NewMemStore()
		recordStore = memStore
		alertStore = noopAlertStore{}
	}

	auditLedger, err := ledger.New(ctx, recordStore, logger)
	if err != nil {
		logger.Error("ledger initialization failed", "error", err)
		os.Exit(1)
	}
	logger.Info("audit ledger ready", "records", auditLedger.Sequence())

	guard := throttle.NewGuard(cfg.Throttle, logger)
	defer guard.Stop()

	// Alert sinks.
	var sinks []detector.Sink
	for _, w := range cfg.Notify.Webhooks {
		sinks = append(sinks, notify.NewWebhookSink(w.Name, w.URL, w.Headers))
	}
	var kafkaSink *notify.KafkaSink
	if cfg.Notify.Kafka.Enabled {
		kafkaSink, err = notify.NewKafkaSink(cfg.Notify.Kafka.KafkaConfig, logger)
		if err != nil {
			logger.Error("kafka sink setup failed", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, kafkaSink)
	}
	sink := notify.NewFanout(logger, sinks...)

	profiles := detector.NewMemProfiles(cfg.Profiles.Locations, cfg.Profiles.Devices)
	fraudDetector := detector.New(ctx, cfg.Detector,
		detector.NewLedgerHistory(auditLedger), profiles, guard, sink, alertStore, logger)

	// Sessions.
	var sessions auth.SessionStore
	if cfg.Auth.SessionBackend == "redis" {
		redisStore, err := auth.NewRedisSessionStore(cfg.Auth.Redis)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		sessions = redisStore
		logger.Info("session store ready", "backend", "redis", "addr", cfg.Auth.Redis.Addr)
	} else {
		sessions = auth.NewMemorySessionStore()
		logger.Info("session store ready", "backend", "memory")
	}
	authService := auth.NewService(cfg.Auth, sessions, guard, auditLedger, logger)

	handler := api.NewHandler(auditLedger, fraudDetector, guard, authService,
		schema.NewValidator(), logger)

	if cfg.Archive.Enabled {
		uploader, err := archive.NewS3Uploader(ctx, cfg.Archive.S3, logger)
		if err != nil {
			logger.Error("archive storage setup failed", "error", err)
			os.Exit(1)
		}
		handler.WithArchiver(archive.NewArchiver(auditLedger, uploader, logger))
		logger.Info("archiver ready", "bucket", cfg.Archive.S3.Bucket)
	}
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	wrapped := api.SecurityHeadersMiddleware(
		api.RateLimitMiddleware(guard, cfg.Server.TrustProxy)(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      wrapped,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()

	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Error("kafka sink close error", "error", err)
		}
	}
	if err := sessions.Close(); err != nil {
		logger.Error("session store close error", "error", err)
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			logger.Error("clickhouse close error", "error", err)
		}
	}

	logger.Info("shutdown complete", "ledger_records", auditLedger.Sequence())
}

// noopAlertStore satisfies the detector when durable storage is off.
// The detector keeps its own in-memory alert collection either way.
type noopAlertStore struct{}

func (noopAlertStore) SaveAlert(ctx context.Context, alert *detector.Alert) error {
	return nil
}

func (noopAlertStore) LastAlertID(ctx context.Context) (int64, error) {
	return 0, nil
}
