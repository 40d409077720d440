package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/bootstrap"
	"chat-relay/internal/config"
	"chat-relay/internal/models"
	"chat-relay/internal/services"
	"chat-relay/internal/websocket"
	"chat-relay/pkg/logger"
)

var demoUsers = []string{"alice", "bob", "charlie", "admin"}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.Setup(cfg.App.Env, cfg.App.LogLevel)

	slog.Info("Starting database seeding...")

	ctx := context.Background()
	stores, err := bootstrap.OpenStores(ctx, cfg, true)
	if err != nil {
		log.Fatal("Failed to open store:", err)
	}
	defer stores.Close(ctx)

	// A relay with no connections keeps the service wiring identical to the server
	verifier := auth.NewJWTVerifier(cfg.JWT.Secret)
	relay := websocket.NewRelay(verifier, stores.Conversations, stores.Messages, websocket.Options{})
	svc := services.NewConversationService(stores.Conversations, stores.Messages, relay)

	if err := seedConversations(ctx, svc); err != nil {
		log.Fatal("Failed to seed conversations:", err)
	}

	// Print a token per demo user so the relay can be tried right away
	issuer := auth.NewIssuer(cfg.JWT.Secret, 24*time.Hour)
	for _, user := range demoUsers {
		token, err := issuer.Issue(user)
		if err != nil {
			log.Fatal("Failed to issue token:", err)
		}
		fmt.Printf("%-8s %s\n", user, token)
	}

	slog.Info("Database seeding completed successfully!")
}

func seedConversations(ctx context.Context, svc *services.ConversationService) error {
	direct, created, err := svc.CreateConversation(ctx, "alice", models.CreateConversationRequest{
		Participants: []string{"bob"},
	})
	if err != nil {
		return err
	}
	slog.Info("Direct conversation ready", "id", direct.ID, "created", created)

	if created {
		for _, m := range []struct{ sender, content string }{
			{"alice", "Hey Bob, how are you?"},
			{"bob", "Hi Alice! Doing great, thanks."},
		} {
			if _, err := svc.SendMessage(ctx, m.sender, direct.ID, m.content); err != nil {
				return err
			}
		}
	}

	group, _, err := svc.CreateConversation(ctx, "admin", models.CreateConversationRequest{
		Name:         "general",
		Participants: []string{"alice", "bob", "charlie"},
		IsGroup:      true,
	})
	if err != nil {
		return err
	}
	if _, err := svc.SendMessage(ctx, "admin", group.ID, "Welcome to the general conversation!"); err != nil {
		return err
	}
	slog.Info("Group conversation ready", "id", group.ID)
	return nil
}
