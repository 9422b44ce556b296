package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/hookline/intake/internal/adapters/sqlite"
	"github.com/hookline/intake/internal/app/services"
	"github.com/hookline/intake/internal/cache"
	"github.com/hookline/intake/internal/config"
	"github.com/hookline/intake/internal/db"
	"github.com/hookline/intake/internal/notify"
	"github.com/hookline/intake/internal/observability"
	"github.com/hookline/intake/internal/server"
	"github.com/hookline/intake/internal/server/routes"
)

func Run() error {
	logLevel := new(slog.LevelVar)
	baseHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	log := slog.New(observability.WrapSlogHandler(baseHandler))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.IsLocalDevelopment() {
		logLevel.Set(slog.LevelDebug)
	}

	shutdownTelemetry, err := observability.Setup(context.Background(), log, observability.Config{
		Enabled:           cfg.Observability.Enabled,
		OTLPEndpoint:      cfg.Observability.OTLPEndpoint,
		OTLPTraceHeaders:  cfg.Observability.OTLPTraceHeaders,
		OTLPMetricHeaders: cfg.Observability.OTLPMetricHeaders,
		ServiceName:       cfg.Observability.ServiceName,
		ServiceVer:        cfg.Observability.ServiceVer,
		SamplingRatio:     cfg.Observability.SamplingRatio,
		MetricsConsole:    cfg.Observability.MetricsConsole,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	if cfg.Database.LogTiming {
		go logDBLatencyStats(log, database)
	}

	tokens, closeCache := buildTokenCache(cfg)
	defer closeCache()

	store := sqlite.NewStore(database)

	ingest := services.NewWebhookIngestServiceWithConfig(store, store, tokens, services.IngestBatchConfig{
		Enabled:       cfg.Ingestion.BatchEnabled,
		Size:          cfg.Ingestion.BatchSize,
		FlushInterval: cfg.IngestionBatchFlushInterval(),
	})
	if cfg.Notify.SinkURL != "" {
		forwarder, err := notify.NewForwarder(cfg.Notify.SinkURL)
		if err != nil {
			return fmt.Errorf("failed to start event notifier: %w", err)
		}
		defer forwarder.Close()
		ingest.SetNotifier(forwarder)
		slog.Info("Event notifications enabled", "sink", cfg.Notify.SinkURL)
	}

	query := services.NewEventQueryService(store, tokens, store)

	srv := server.New(log)
	srv.RegisterRouter(routes.NewIntakeRoutes(ingest))
	srv.RegisterRouter(routes.NewAPIRoutes(query))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting server", "port", cfg.Server.Port, "cache_enabled", cfg.Cache.Enabled)
	return srv.Start(addr)
}

func main() {
	if err := Run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// buildTokenCache picks the Redis identifier cache or the no-op stand-in.
// Redis being unreachable is not fatal, the resolver falls back to the
// registry on every lookup error.
func buildTokenCache(cfg config.Config) (cache.TokenCache, func()) {
	if !cfg.Cache.Enabled {
		slog.Info("Identifier cache disabled, lookups always hit the registry")
		return cache.Noop{}, func() {}
	}

	redisCache := cache.NewRedis(cache.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPass,
		DB:       cfg.Cache.RedisDB,
		TTL:      cfg.CacheTTL(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisCache.Ping(ctx); err != nil {
		slog.Warn("Redis unreachable at startup, continuing degraded", "addr", cfg.Cache.RedisAddr, "error", err)
	}

	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			slog.Error("Failed to close cache connection", "error", err)
		}
	}
}

func logDBLatencyStats(log *slog.Logger, database *db.Database) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := database.QueryLatencyStats()
		if len(stats) == 0 {
			continue
		}
		limit := 5
		if len(stats) < limit {
			limit = len(stats)
		}
		for index := 0; index < limit; index++ {
			entry := stats[index]
			log.Info("db_query_latency",
				"query", entry.Name,
				"count", entry.Count,
				"p50_ms", entry.P50.Milliseconds(),
				"p95_ms", entry.P95.Milliseconds(),
				"max_ms", entry.Max.Milliseconds(),
			)
		}
	}
}
