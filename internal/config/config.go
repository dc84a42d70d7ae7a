// Package config loads server configuration from the environment. A .env
// file is honored for local runs; deployed environments inject real env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything the server needs to start
type Config struct {
	HTTPAddr string
	APIToken string

	// Store selects the ledger backend: "postgres" or "memory" (dev mode).
	Store     string
	DBConnStr string

	// LockBackend selects the pool lock manager: "redis" for multi-instance
	// deployments, "mutex" for a single process.
	LockBackend  string
	RedisAddress string

	FanOutMaxRecipients int
	SweepInterval       time.Duration

	LogLevel logrus.Level
}

// Load reads configuration from the environment, applying defaults suitable
// for local development.
func Load() (*Config, error) {
	// Best effort; deployed environments have no .env file
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		APIToken:            getEnv("API_TOKEN", "dev-token"),
		Store:               getEnv("STORE", "postgres"),
		DBConnStr:           os.Getenv("DB_CONN_STR"),
		LockBackend:         getEnv("LOCK_BACKEND", "mutex"),
		RedisAddress:        getEnv("REDIS_ADDRESS", "localhost:6379"),
		FanOutMaxRecipients: getEnvInt("FANOUT_MAX_RECIPIENTS", 500),
		SweepInterval:       getEnvDuration("BUDGET_SWEEP_INTERVAL", time.Minute),
	}

	if cfg.DBConnStr == "" {
		// Build the connection string from individual vars (Docker friendly)
		cfg.DBConnStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", "postgres"),
			getEnv("DB_NAME", "points"),
		)
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cfg.FanOutMaxRecipients <= 0 {
		return nil, fmt.Errorf("FANOUT_MAX_RECIPIENTS must be positive")
	}

	return cfg, nil
}

// NewLogger builds the structured JSON logger used across the server
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(c.LogLevel)
	log.SetOutput(os.Stdout)
	return log
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
