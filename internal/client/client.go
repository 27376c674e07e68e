// Package client composes the sync core from configuration: transport
// client, change feed adapter, shared view cache and the per-viewer stores.
// This is the assembly entry point an embedding app uses; the stores stay
// individually constructible for tests.
package client

import (
	"localspot-sync/internal/domain"
	"localspot-sync/internal/realtime"
	"localspot-sync/internal/store/inbox"
	"localspot-sync/internal/store/readreceipt"
	"localspot-sync/internal/store/thread"
	"localspot-sync/internal/transport"
	"localspot-sync/pkg/cache"
	"localspot-sync/pkg/config"
)

// Client wires the shared pieces of the sync core. One Client serves every
// viewer scope in the process; the stores it hands out share its cache and
// feed.
type Client struct {
	cfg    *config.Config
	api    transport.API
	tokens *transport.StaticTokenSource
	feed   realtime.Feed
	cache  *cache.ViewCache

	stopCleanup func()
}

// New builds a client from configuration
func New(cfg *config.Config) (*Client, error) {
	feed, err := realtime.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	tokens := transport.NewStaticTokenSource(cfg.API.Token)
	viewCache := cache.NewViewCache(cfg.Cache.TTL)

	return &Client{
		cfg:         cfg,
		api:         transport.NewClient(cfg.API.BaseURL, tokens, cfg.API.Timeout),
		tokens:      tokens,
		feed:        feed,
		cache:       viewCache,
		stopCleanup: viewCache.StartCleanup(cfg.Cache.CleanupInterval),
	}, nil
}

// SetToken swaps in a refreshed bearer token after re-authentication
func (c *Client) SetToken(raw string) {
	c.tokens.SetToken(raw)
}

// Inbox returns a conversation store for one viewer scope
func (c *Client) Inbox(viewer domain.Viewer) *inbox.Store {
	return inbox.New(viewer, c.api, c.cache, c.feed)
}

// Thread returns a message thread store for a viewer, propagating into the
// given inbox store (nil disables cross-view propagation)
func (c *Client) Thread(viewer domain.Viewer, inboxStore *inbox.Store) *thread.Store {
	return thread.New(viewer, c.api, c.feed, inboxStore, c.cfg.Sync.PageSize)
}

// ReadReceipts returns a mark-as-read coordinator debounced per SYNC_READ_DEBOUNCE,
// firing into the given thread store
func (c *Client) ReadReceipts(viewer domain.Viewer, threadStore *thread.Store) *readreceipt.Coordinator {
	return readreceipt.New(viewer.Role, threadStore.MarkRead, c.cfg.Sync.ReadMarkDebounce)
}

// Close stops the cache cleanup goroutine
func (c *Client) Close() {
	c.stopCleanup()
}
