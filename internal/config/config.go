package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env        string
	Port       string
	JWTSecret  string
	InstanceID string
	DataDir    string
	Database   DatabaseConfig
	Remote     RemoteConfig
}

// DatabaseConfig holds local store (Postgres) configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Quiet    bool
}

// RemoteConfig holds remote data service configuration. An empty URL switches
// the engine to the in-memory remote store, which is useful for development
// and demos the same way the embedded database is for the local store.
type RemoteConfig struct {
	URL        string
	ServiceKey string
	TimeoutSec int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		Env:        getEnv("APP_ENV", "development"),
		Port:       getEnv("PORT", "3001"),
		JWTSecret:  jwtSecret,
		InstanceID: getEnv("INSTANCE_ID", "salesbridge-local"),
		DataDir:    getEnv("DATA_DIR", "./data"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "salesbridge"),
			Quiet:    getBoolEnv("DB_QUIET", false),
		},
		Remote: RemoteConfig{
			URL:        os.Getenv("REMOTE_URL"),
			ServiceKey: os.Getenv("REMOTE_SERVICE_KEY"),
			TimeoutSec: getIntEnv("REMOTE_TIMEOUT", 10),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
