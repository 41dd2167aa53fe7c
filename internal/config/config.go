// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the full runtime configuration of the server and historian.
type Config struct {
	Port         string
	StoreBackend string

	DatabaseURL     string
	TxMaxAttempts   int
	MigrateOnStart  bool
	RedisAddr       string
	RedisDB         int
	TokenExpireTime string
	JWTPrivateKey   string
	JWTPublicKey    string

	RoomFeedInterval time.Duration
	IdentityCacheTTL time.Duration

	HistoryQueue      string
	HistorianBatch    int
	HistorianFlush    time.Duration
	RoomChannelPrefix string

	LogLevel  string
	LogFormat string
}

// Load builds a Config from environment variables, applying defaults.
func Load() (*Config, error) {
	c := &Config{
		Port:              getEnv("PORT", "8080"),
		StoreBackend:      getEnv("STORE_BACKEND", BackendPostgres),
		DatabaseURL:       databaseURL(),
		TxMaxAttempts:     getEnvInt("DB_TX_MAX_ATTEMPTS", 3),
		MigrateOnStart:    getEnvBool("MIGRATE_ON_START", true),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		TokenExpireTime:   os.Getenv("TOKEN_EXPIRE_TIME"),
		JWTPrivateKey:     os.Getenv("JWT_PRIVATE_KEY_PATH"),
		JWTPublicKey:      os.Getenv("JWT_PUBLIC_KEY_PATH"),
		HistoryQueue:      getEnv("HISTORIAN_QUEUE_NAME", "liveroom_events"),
		HistorianBatch:    getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		RoomChannelPrefix: getEnv("ROOM_CHANNEL_PREFIX", "liveroom:room:"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if c.RoomFeedInterval, err = getEnvDuration("ROOM_FEED_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if c.IdentityCacheTTL, err = getEnvDuration("IDENTITY_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.HistorianFlush, err = getEnvDuration("HISTORIAN_FLUSH_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}

	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL or POSTGRES_USER/PG_HOST must be set for the postgres backend")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.TxMaxAttempts < 1 {
		return nil, fmt.Errorf("DB_TX_MAX_ATTEMPTS must be at least 1")
	}
	return c, nil
}

// databaseURL prefers DATABASE_URL and falls back to the discrete PG_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	if os.Getenv("PG_HOST") == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		getEnv("PG_PORT", "5432"),
		os.Getenv("PG_DATABASE"),
	)
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt parses an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
