package main

// @title           Chat Relay API
// @version         1.0
// @description     Realtime conversation relay with a REST surface for history and membership
// @host            localhost:3000
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/adapters/kafka"
	"chat-relay/internal/api/routes"
	"chat-relay/internal/auth"
	"chat-relay/internal/bootstrap"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/services"
	"chat-relay/internal/websocket"
	"chat-relay/pkg/logger"
	"chat-relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	appLogger := logger.Setup(cfg.App.Env, cfg.App.LogLevel)
	slog.Info("Starting chat relay", "env", cfg.App.Env, "driver", cfg.Database.Driver)

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		slog.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	stores, err := bootstrap.OpenStores(ctx, cfg, true)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer stores.Close(context.Background())

	verifier := auth.NewJWTVerifier(cfg.JWT.Secret)
	relayOpts := websocket.Options{
		StrictMembership: cfg.Relay.StrictMembership,
		StoreTimeout:     cfg.Relay.StoreTimeout,
		SendBufferSize:   cfg.Relay.SendBufferSize,
		MaxMessageSize:   cfg.Relay.MaxMessageSize,
		Logger:           appLogger,
	}

	deps := routes.Dependencies{
		Config:       cfg,
		Logger:       appLogger,
		Verifier:     verifier,
		HealthChecks: stores.HealthChecks,
	}

	// Presence and rate limiting are optional
	if cfg.Redis.Enabled() {
		redisClient, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		redisService := services.NewRedisService(redisClient)
		relayOpts.Presence = redisService
		deps.Limiter = redisService
		deps.Statuses = redisService
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		slog.Warn("REDIS_URL not set, presence and rate limiting are disabled")
	}

	if cfg.Kafka.Enabled() {
		producer, err := kafka.InitKafkaProducer(cfg.Kafka)
		if err != nil {
			slog.Error("Failed to create Kafka producer", "error", err)
			os.Exit(1)
		}
		journal := kafka.NewMessageJournal(producer, cfg.Kafka.Topic)
		defer journal.Close()
		relayOpts.Journal = journal
		slog.Info("Message journal enabled", "topic", cfg.Kafka.Topic)
	}

	relay := websocket.NewRelay(verifier, stores.Conversations, stores.Messages, relayOpts)
	deps.Relay = relay
	deps.Conversations = services.NewConversationService(stores.Conversations, stores.Messages, relay)

	router := routes.NewRouter(deps)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close realtime clients first so they reconnect elsewhere
	relay.Shutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
