package config

import (
	"fmt"
	"time"

	"localspot-sync/pkg/env"
)

// Config holds all configuration for the sync core
type Config struct {
	API   APIConfig
	Feed  FeedConfig
	Cache CacheConfig
	Sync  SyncConfig
	Log   LogConfig
}

// APIConfig holds message API transport configuration
type APIConfig struct {
	BaseURL string
	// Token is the bearer token presented to the collaborator API.
	// Supports Docker secrets via API_TOKEN_FILE.
	Token   string
	Timeout time.Duration
}

// FeedConfig holds row-change notification feed configuration
type FeedConfig struct {
	// Backend selects the adapter: ws, redis or postgres
	Backend string
	WSURL   string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	PostgresDSN     string
	PostgresChannel string
}

// CacheConfig holds view cache configuration
type CacheConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SyncConfig holds store tuning knobs
type SyncConfig struct {
	PageSize          int
	ReadMarkDebounce  time.Duration
	ReconnectBackoff  time.Duration
	ReconnectMaxDelay time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL: env.GetString("API_BASE_URL", "http://localhost:8080"),
			Token:   env.GetStringFromFile("API_TOKEN", ""),
			Timeout: env.GetDuration("API_TIMEOUT", 15*time.Second),
		},
		Feed: FeedConfig{
			Backend:         env.GetString("FEED_BACKEND", "ws"),
			WSURL:           env.GetString("FEED_WS_URL", "ws://localhost:8080/v1/changes/ws"),
			RedisHost:       env.GetString("REDIS_HOST", "localhost"),
			RedisPort:       env.GetInt("REDIS_PORT", 6379),
			RedisPassword:   env.GetString("REDIS_PASSWORD", ""),
			RedisDB:         env.GetInt("REDIS_DB", 0),
			PostgresDSN:     env.GetString("POSTGRES_DSN", ""),
			PostgresChannel: env.GetString("POSTGRES_CHANNEL", "row_changes"),
		},
		Cache: CacheConfig{
			TTL:             env.GetDuration("CACHE_TTL", 30*time.Second),
			CleanupInterval: env.GetDuration("CACHE_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Sync: SyncConfig{
			PageSize:          env.GetInt("SYNC_PAGE_SIZE", 30),
			ReadMarkDebounce:  env.GetDuration("SYNC_READ_DEBOUNCE", 600*time.Millisecond),
			ReconnectBackoff:  env.GetDuration("SYNC_RECONNECT_BACKOFF", time.Second),
			ReconnectMaxDelay: env.GetDuration("SYNC_RECONNECT_MAX_DELAY", 30*time.Second),
		},
		Log: LogConfig{
			Level:  env.GetString("LOG_LEVEL", "info"),
			Format: env.GetString("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Feed.Backend {
	case "ws", "redis", "postgres":
	default:
		return fmt.Errorf("invalid FEED_BACKEND %q (want ws, redis or postgres)", c.Feed.Backend)
	}
	if c.Feed.Backend == "postgres" && c.Feed.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when FEED_BACKEND=postgres")
	}
	if c.Sync.PageSize < 1 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be positive")
	}
	return nil
}
