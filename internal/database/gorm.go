package database

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	connectAttempts   = 5
	connectRetryDelay = 2 * time.Second
)

// NewGormConnection opens the relational store selected by cfg.Driver.
func NewGormConnection(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN())
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err = Open(dialector)
		if err == nil {
			break
		}
		slog.Warn("Failed to connect to database", "driver", cfg.Driver, "attempt", attempt, "maxAttempts", connectAttempts, "error", err)
		if attempt < connectAttempts {
			time.Sleep(connectRetryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", connectAttempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)

	return db, nil
}

// Open opens dialector with the relay's gorm settings.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt:            false,
		SkipDefaultTransaction: true,
		AllowGlobalUpdate:      false,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the conversation schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
	)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			slog.Info("Tables already exist, continuing with existing schema")
		} else {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	if err := addIndexes(db); err != nil {
		return fmt.Errorf("failed to add indexes: %w", err)
	}
	return nil
}

func addIndexes(db *gorm.DB) error {
	indexes := []struct {
		table   string
		columns []string
	}{
		{"messages", []string{"conversation_id", "sender_id", "is_read"}},
	}

	migrator := db.Migrator()
	for _, idx := range indexes {
		name := fmt.Sprintf("idx_%s_%s", idx.table, strings.Join(idx.columns, "_"))
		if migrator.HasIndex(idx.table, name) {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, idx.table, strings.Join(idx.columns, ", "))
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
