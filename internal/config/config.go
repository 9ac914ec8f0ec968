// Package config provides configuration management for the presence engine.
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
	Points   PointsConfig
	Engine   EngineConfig
	Platform PlatformConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
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

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// PointsConfig holds the parameters of the points formula
type PointsConfig struct {
	Grace         time.Duration // padding added before truncating to hours
	FirstHour     int64         // reward for the first credited hour of a day
	PerExtraHour  int64         // reward for each further hour up to the cap
	DailyCapHours int           // hours beyond this add nothing
}

// EngineConfig holds engine timing and queue configuration
type EngineConfig struct {
	ResumableAge    time.Duration // open sessions older than this are closed untracked
	ResetInterval   time.Duration // cadence of the daily-reset sweep
	StreakThreshold int           // daily messages needed to advance the streak
	PublishQueue    int           // buffered leaderboard refresh requests
	PublishRate     float64       // external publish pushes per second
	PublishBurst    int
}

// PlatformConfig holds the community platform API configuration
type PlatformConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "presence_engine"),
				User:           getEnv("POSTGRES_USER", "presence"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Points: PointsConfig{
			Grace:         getEnvAsDuration("POINTS_GRACE", 5*time.Minute),
			FirstHour:     int64(getEnvAsInt("POINTS_FIRST_HOUR", 10)),
			PerExtraHour:  int64(getEnvAsInt("POINTS_PER_EXTRA_HOUR", 5)),
			DailyCapHours: getEnvAsInt("POINTS_DAILY_CAP_HOURS", 12),
		},
		Engine: EngineConfig{
			ResumableAge:    getEnvAsDuration("ENGINE_RESUMABLE_AGE", 24*time.Hour),
			ResetInterval:   getEnvAsDuration("ENGINE_RESET_INTERVAL", time.Hour),
			StreakThreshold: getEnvAsInt("ENGINE_STREAK_THRESHOLD", 5),
			PublishQueue:    getEnvAsInt("ENGINE_PUBLISH_QUEUE", 256),
			PublishRate:     getEnvAsFloat("ENGINE_PUBLISH_RATE", 5),
			PublishBurst:    getEnvAsInt("ENGINE_PUBLISH_BURST", 10),
		},
		Platform: PlatformConfig{
			BaseURL: getEnv("PLATFORM_BASE_URL", "http://localhost:9090"),
			Token:   getEnv("PLATFORM_TOKEN", ""),
			Timeout: getEnvAsDuration("PLATFORM_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
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
