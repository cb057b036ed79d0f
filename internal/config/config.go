package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway service
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Services
	Realtime RealtimeConfig
}

// DatabaseConfig holds PostgreSQL configuration for the session store
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// RealtimeConfig holds the WebSocket gateway configuration
type RealtimeConfig struct {
	Port            int
	HealthCheckPort int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	SendTimeout     time.Duration

	// Admission limits. MaxConnections bounds the whole process,
	// MaxConnectionsPerUser bounds a single account across devices.
	MaxConnections        int
	MaxConnectionsPerUser int

	// Presence tuning. A user with no inbound frames for AwayAfter is
	// marked away; the sweep runs every PresenceSweepInterval.
	AwayAfter             time.Duration
	PresenceSweepInterval time.Duration
	BroadcastPresence     bool
	PresenceChannel       string

	JWTSecret          string
	NotificationStream string
	ConsumerGroup      string
	RateLimitRPS       int
}

// Load loads configuration from environment variables
// It automatically loads .env file if it exists in the current directory or parent directories
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "chat"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Realtime: RealtimeConfig{
			Port:                  getEnvAsInt("GATEWAY_PORT", 8080),
			HealthCheckPort:       getEnvAsInt("GATEWAY_HEALTH_PORT", 8081),
			ReadTimeout:           getEnvAsDuration("GATEWAY_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:          getEnvAsDuration("GATEWAY_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:          getEnvAsDuration("GATEWAY_PING_INTERVAL", 30*time.Second),
			SendTimeout:           getEnvAsDuration("GATEWAY_SEND_TIMEOUT", 1*time.Second),
			MaxConnections:        getEnvAsInt("GATEWAY_MAX_CONNECTIONS", 10000),
			MaxConnectionsPerUser: getEnvAsInt("GATEWAY_MAX_CONNECTIONS_PER_USER", 5),
			AwayAfter:             getEnvAsDuration("GATEWAY_AWAY_AFTER", 5*time.Minute),
			PresenceSweepInterval: getEnvAsDuration("GATEWAY_PRESENCE_SWEEP_INTERVAL", 30*time.Second),
			BroadcastPresence:     getEnvAsBool("GATEWAY_BROADCAST_PRESENCE", false),
			PresenceChannel:       getEnv("GATEWAY_PRESENCE_CHANNEL", "presence.events"),
			JWTSecret:             getEnv("GATEWAY_JWT_SECRET", ""),
			NotificationStream:    getEnv("GATEWAY_NOTIFICATION_STREAM", "notifications"),
			ConsumerGroup:         getEnv("GATEWAY_CONSUMER_GROUP", "gateway"),
			RateLimitRPS:          getEnvAsInt("GATEWAY_RATE_LIMIT_RPS", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Realtime.MaxConnectionsPerUser <= 0 {
		return fmt.Errorf("GATEWAY_MAX_CONNECTIONS_PER_USER must be positive")
	}
	if c.Realtime.AwayAfter <= 0 {
		return fmt.Errorf("GATEWAY_AWAY_AFTER must be positive")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
