package realtime

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"localspot-sync/pkg/config"
)

// NewFromConfig builds the change feed adapter named by FEED_BACKEND
func NewFromConfig(cfg *config.Config) (Feed, error) {
	switch cfg.Feed.Backend {
	case "ws":
		return NewWebsocketFeed(cfg.Feed.WSURL, cfg.Sync.ReconnectBackoff, cfg.Sync.ReconnectMaxDelay), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Feed.RedisHost, cfg.Feed.RedisPort),
			Password: cfg.Feed.RedisPassword,
			DB:       cfg.Feed.RedisDB,
		})
		return NewRedisFeed(client), nil

	case "postgres":
		return NewPostgresFeed(cfg.Feed.PostgresDSN, cfg.Feed.PostgresChannel,
			cfg.Sync.ReconnectBackoff, cfg.Sync.ReconnectMaxDelay), nil

	default:
		return nil, fmt.Errorf("unknown feed backend %q", cfg.Feed.Backend)
	}
}
