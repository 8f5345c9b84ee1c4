// Package config provides configuration management for the cast indexer.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Hub      HubConfig
	Profile  ProfileConfig
	Notify   NotifyConfig
	Backfill BackfillConfig
	Listener ListenerConfig
	UserSync UserSyncConfig
	Logging  LoggingConfig
}

// ServerConfig holds query API server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL form used by the migration tooling
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// ClickHouseConfig holds ClickHouse configuration for the ingest audit log.
// ClickHouse is optional; an empty host disables audit event writes.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// Enabled reports whether a ClickHouse endpoint is configured
func (c *ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// HubConfig holds the Farcaster hub HTTP API configuration
type HubConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// ProfileConfig holds the profile API (Neynar) configuration
type ProfileConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
}

// NotifyConfig holds Telegram notification configuration.
// An empty bot token degrades notifications to local log lines.
type NotifyConfig struct {
	BotToken string
	ChatID   string
}

// BackfillConfig holds backfill scheduler configuration
type BackfillConfig struct {
	JobName         string
	MinScore        float64
	UsersPageSize   int
	CastsPageSize   int
	MaxPagesPerUser int
	UserTimeout     time.Duration
	HubTimeout      time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	HubRetryDelay   time.Duration
	PageDelay       time.Duration
}

// ListenerConfig holds live feed listener configuration
type ListenerConfig struct {
	StalenessWindow time.Duration
	ReconnectDelay  time.Duration
	PollInterval    time.Duration
}

// UserSyncConfig holds user population sync configuration
type UserSyncConfig struct {
	ChunkDelay time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "4000"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "cast_indexer"),
				User:           getEnv("POSTGRES_USER", "indexer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "cast_indexer"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Hub: HubConfig{
			BaseURL:        getEnv("HUB_BASE_URL", "http://nemes.farcaster.xyz:2281"),
			RequestTimeout: getEnvAsDuration("HUB_REQUEST_TIMEOUT", 15*time.Second),
		},
		Profile: ProfileConfig{
			APIKey:            getEnv("NEYNAR_API_KEY", ""),
			BaseURL:           getEnv("NEYNAR_BASE_URL", "https://api.neynar.com"),
			RequestsPerSecond: getEnvAsFloat("NEYNAR_REQUESTS_PER_SECOND", 5),
		},
		Notify: NotifyConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		},
		Backfill: BackfillConfig{
			JobName:         getEnv("BACKFILL_JOB_NAME", "backfill-casts"),
			MinScore:        getEnvAsFloat("BACKFILL_MIN_SCORE", 0.6),
			UsersPageSize:   getEnvAsInt("BACKFILL_USERS_PAGE_SIZE", 50),
			CastsPageSize:   getEnvAsInt("BACKFILL_CASTS_PAGE_SIZE", 1000),
			MaxPagesPerUser: getEnvAsInt("BACKFILL_MAX_PAGES_PER_USER", 100),
			UserTimeout:     getEnvAsDuration("BACKFILL_USER_TIMEOUT", 30*time.Second),
			HubTimeout:      getEnvAsDuration("BACKFILL_HUB_TIMEOUT", 15*time.Second),
			MaxAttempts:     getEnvAsInt("BACKFILL_MAX_ATTEMPTS", 10),
			RetryDelay:      getEnvAsDuration("BACKFILL_RETRY_DELAY", 2*time.Second),
			HubRetryDelay:   getEnvAsDuration("BACKFILL_HUB_RETRY_DELAY", time.Second),
			PageDelay:       getEnvAsDuration("BACKFILL_PAGE_DELAY", time.Second),
		},
		Listener: ListenerConfig{
			StalenessWindow: getEnvAsDuration("LISTENER_STALENESS_WINDOW", 24*time.Hour),
			ReconnectDelay:  getEnvAsDuration("LISTENER_RECONNECT_DELAY", 5*time.Second),
			PollInterval:    getEnvAsDuration("LISTENER_POLL_INTERVAL", time.Second),
		},
		UserSync: UserSyncConfig{
			ChunkDelay: getEnvAsDuration("USER_SYNC_CHUNK_DELAY", 100*time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks settings the pipeline cannot run without or would silently
// misbehave with
func (c *Config) validate() error {
	if c.Backfill.UsersPageSize <= 0 {
		return fmt.Errorf("BACKFILL_USERS_PAGE_SIZE must be positive, got %d", c.Backfill.UsersPageSize)
	}
	if c.Backfill.CastsPageSize <= 0 {
		return fmt.Errorf("BACKFILL_CASTS_PAGE_SIZE must be positive, got %d", c.Backfill.CastsPageSize)
	}
	if c.Backfill.MaxPagesPerUser <= 0 {
		return fmt.Errorf("BACKFILL_MAX_PAGES_PER_USER must be positive, got %d", c.Backfill.MaxPagesPerUser)
	}
	if c.Backfill.MaxAttempts <= 0 {
		return fmt.Errorf("BACKFILL_MAX_ATTEMPTS must be positive, got %d", c.Backfill.MaxAttempts)
	}
	if c.Hub.BaseURL == "" {
		return fmt.Errorf("HUB_BASE_URL must not be empty")
	}
	if c.Profile.RequestsPerSecond <= 0 {
		return fmt.Errorf("NEYNAR_REQUESTS_PER_SECOND must be positive, got %f", c.Profile.RequestsPerSecond)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
