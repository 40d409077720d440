package main

import (
	"context"
	"log"
	"log/slog"

	"chat-relay/internal/bootstrap"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/services"
	"chat-relay/pkg/logger"
)

const schemaVersion = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.Setup(cfg.App.Env, cfg.App.LogLevel)

	slog.Info("Starting database migration...", "driver", cfg.Database.Driver)

	ctx := context.Background()
	stores, err := bootstrap.OpenStores(ctx, cfg, true)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	defer stores.Close(ctx)

	if err := stores.HealthChecks["database"](ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	// Record the migration so operators can see it next to presence data
	if cfg.Redis.Enabled() {
		redisClient, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, migration state not recorded", "error", err)
		} else {
			defer redisClient.Close()
			if err := services.NewRedisService(redisClient).SetMigrationState(ctx, schemaVersion, "ready"); err != nil {
				slog.Warn("Failed to set migration state", "error", err)
			}
		}
	}

	slog.Info("Database migration completed successfully!", "version", schemaVersion)
}
