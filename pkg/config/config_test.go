package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FEED_BACKEND", "")
	t.Setenv("CACHE_TTL", "")
	t.Setenv("SYNC_PAGE_SIZE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws", cfg.Feed.Backend)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 30, cfg.Sync.PageSize)
	assert.Equal(t, 600*time.Millisecond, cfg.Sync.ReadMarkDebounce)
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FEED_BACKEND", "redis")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("SYNC_PAGE_SIZE", "50")
	t.Setenv("SYNC_READ_DEBOUNCE", "250ms")
	t.Setenv("CACHE_TTL", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Feed.Backend)
	assert.Equal(t, "cache.internal", cfg.Feed.RedisHost)
	assert.Equal(t, 6380, cfg.Feed.RedisPort)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.ReadMarkDebounce)
	assert.Equal(t, 10*time.Second, cfg.Cache.TTL)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("FEED_BACKEND", "kafka")

	_, err := Load()
	assert.ErrorContains(t, err, "FEED_BACKEND")
}

func TestLoadRequiresDSNForPostgresBackend(t *testing.T) {
	t.Setenv("FEED_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	assert.ErrorContains(t, err, "POSTGRES_DSN")

	t.Setenv("POSTGRES_DSN", "postgres://localhost/app")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "row_changes", cfg.Feed.PostgresChannel)
}

func TestLoadRejectsNonPositivePageSize(t *testing.T) {
	t.Setenv("FEED_BACKEND", "ws")
	t.Setenv("SYNC_PAGE_SIZE", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "SYNC_PAGE_SIZE")
}
