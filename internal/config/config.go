package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Kafka    KafkaConfig
	Relay    RelayConfig
	CORS     CORSConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Env      string
	LogLevel string
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMongo    = "mongo"
)

type DatabaseConfig struct {
	Driver   string
	URI      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns URI when set, otherwise a DSN assembled for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.URI != "" {
		return d.URI
	}
	if d.Driver == DriverMySQL {
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	URI          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

// Enabled reports whether presence and rate limiting have a backing store.
func (r RedisConfig) Enabled() bool {
	return r.URI != ""
}

type JWTConfig struct {
	Secret         string
	ExpirationTime time.Duration
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type RelayConfig struct {
	// StrictMembership gates join and typing with the participant check.
	StrictMembership bool
	SendBufferSize   int
	MaxMessageSize   int64
	StoreTimeout     time.Duration
}

// TracingConfig turns on OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

func (t TracingConfig) Active() bool {
	return t.Enabled && t.Endpoint != ""
}

type CORSConfig struct {
	AllowedOrigins []string
}

// LoadConfig reads an optional .env file and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("APP_ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Server: ServerConfig{
			Host:         v.GetString("RELAY_HOST"),
			Port:         v.GetString("RELAY_PORT"),
			ReadTimeout:  v.GetDuration("RELAY_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("RELAY_WRITE_TIMEOUT"),
			IdleTimeout:  v.GetDuration("RELAY_IDLE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(v.GetString("DB_DRIVER")),
			URI:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DB"),
			Timeout:  v.GetDuration("MONGODB_TIMEOUT"),
		},
		Redis: RedisConfig{
			URI:          v.GetString("REDIS_URL"),
			MaxRetries:   v.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("JWT_SECRET"),
			ExpirationTime: v.GetDuration("JWT_EXPIRATION"),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(v.GetString("KAFKA_BROKERS")),
			Topic:    v.GetString("KAFKA_TOPIC"),
			ClientID: v.GetString("KAFKA_CLIENT_ID"),
		},
		Relay: RelayConfig{
			StrictMembership: v.GetBool("RELAY_STRICT_MEMBERSHIP"),
			SendBufferSize:   v.GetInt("RELAY_SEND_BUFFER"),
			MaxMessageSize:   v.GetInt64("RELAY_MAX_MESSAGE_SIZE"),
			StoreTimeout:     v.GetDuration("RELAY_STORE_TIMEOUT"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("OTEL_ENABLED"),
			Endpoint:    v.GetString("OTEL_ENDPOINT"),
			ServiceName: v.GetString("OTEL_SERVICE_NAME"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("RELAY_HOST", "")
	v.SetDefault("RELAY_PORT", "3000")
	v.SetDefault("RELAY_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("RELAY_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("RELAY_IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "chat_relay")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("MONGODB_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGODB_DB", "chat_relay")
	v.SetDefault("MONGODB_TIMEOUT", 10*time.Second)

	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)

	v.SetDefault("JWT_EXPIRATION", time.Hour)

	v.SetDefault("KAFKA_TOPIC", "chat.messages")
	v.SetDefault("KAFKA_CLIENT_ID", "chat-relay")

	v.SetDefault("RELAY_STRICT_MEMBERSHIP", true)
	v.SetDefault("RELAY_SEND_BUFFER", 256)
	v.SetDefault("RELAY_MAX_MESSAGE_SIZE", 64*1024)
	v.SetDefault("RELAY_STORE_TIMEOUT", 5*time.Second)

	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_SERVICE_NAME", "chat-relay")
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.App.Env {
	case "development", "production", "test":
	default:
		return fmt.Errorf("invalid APP_ENV %q: must be development, production or test", c.App.Env)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverMongo:
	default:
		return fmt.Errorf("invalid DB_DRIVER %q: must be postgres, mysql or mongo", c.Database.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Database.Driver == DriverMongo && (c.Mongo.URI == "" || c.Mongo.Database == "") {
		return fmt.Errorf("MONGODB_URI and MONGODB_DB are required when DB_DRIVER=mongo")
	}
	if c.Relay.SendBufferSize <= 0 {
		return fmt.Errorf("RELAY_SEND_BUFFER must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
