// Package bootstrap opens the backing stores selected by configuration so the
// server, migrate and seed binaries share one wiring path.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"chat-relay/internal/api/handlers"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/repositories/mongodb"
	"chat-relay/internal/repositories/postgres"
	"chat-relay/internal/services"

	"gorm.io/gorm"
)

// Stores holds the repositories for the configured driver plus whatever is
// needed to check and release them.
type Stores struct {
	Conversations services.ConversationRepository
	Messages      services.MessageRepository
	HealthChecks  map[string]handlers.HealthCheck

	closers []func(ctx context.Context) error
}

// OpenStores connects to the database named by cfg.Database.Driver. When
// migrate is set the schema or indexes are brought up to date first.
func OpenStores(ctx context.Context, cfg *config.Config, migrate bool) (*Stores, error) {
	s := &Stores{HealthChecks: map[string]handlers.HealthCheck{}}

	switch cfg.Database.Driver {
	case config.DriverMongo:
		mdb, err := database.NewMongoConnection(cfg.Mongo)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, mdb.Close)
		if migrate {
			if err := mongodb.EnsureIndexes(ctx, mdb); err != nil {
				_ = mdb.Close(ctx)
				return nil, fmt.Errorf("failed to ensure mongodb indexes: %w", err)
			}
		}
		s.Conversations = mongodb.NewConversationRepository(mdb)
		s.Messages = mongodb.NewMessageRepository(mdb)
		s.HealthChecks["database"] = func(ctx context.Context) error {
			return mdb.Client.Ping(ctx, nil)
		}

	case config.DriverPostgres, config.DriverMySQL:
		db, err := database.NewGormConnection(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := s.useGorm(db, migrate); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	slog.Info("Store ready", "driver", cfg.Database.Driver)
	return s, nil
}

func (s *Stores) useGorm(db *gorm.DB, migrate bool) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	s.closers = append(s.closers, func(context.Context) error { return sqlDB.Close() })

	if migrate {
		if err := database.Migrate(db); err != nil {
			_ = sqlDB.Close()
			return err
		}
	}
	s.Conversations = postgres.NewConversationRepository(db)
	s.Messages = postgres.NewMessageRepository(db)
	s.HealthChecks["database"] = func(ctx context.Context) error {
		return sqlDB.PingContext(ctx)
	}
	return nil
}

// Close releases every store connection, returning the first error.
func (s *Stores) Close(ctx context.Context) error {
	var first error
	for _, closeFn := range s.closers {
		if err := closeFn(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
