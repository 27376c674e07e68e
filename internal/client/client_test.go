package client

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localspot-sync/internal/domain"
	"localspot-sync/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: time.Second,
		},
		Feed: config.FeedConfig{
			Backend: "ws",
			WSURL:   "ws://localhost:8080/v1/changes/ws",
		},
		Cache: config.CacheConfig{
			TTL:             30 * time.Second,
			CleanupInterval: time.Minute,
		},
		Sync: config.SyncConfig{
			PageSize:          30,
			ReadMarkDebounce:  600 * time.Millisecond,
			ReconnectBackoff:  time.Second,
			ReconnectMaxDelay: 30 * time.Second,
		},
	}
}

func TestNewComposesStores(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	defer c.Close()

	businessID := uuid.New()
	viewer := domain.Viewer{Role: domain.RoleBusiness, UserID: uuid.New(), BusinessID: &businessID}

	inboxStore := c.Inbox(viewer)
	require.NotNil(t, inboxStore)
	assert.Equal(t, viewer, inboxStore.Viewer())

	threadStore := c.Thread(viewer, inboxStore)
	require.NotNil(t, threadStore)
	assert.Equal(t, uuid.Nil, threadStore.ConversationID(), "thread binds via Open")

	assert.NotNil(t, c.ReadReceipts(viewer, threadStore))
}

func TestNewRejectsUnknownFeedBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Backend = "kafka"

	_, err := New(cfg)
	assert.Error(t, err)
}
