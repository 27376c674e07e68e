// Package inbox maintains the conversation list for a viewer scope: a
// freshness-bounded, sorted view of conversation summaries plus the derived
// unread total, kept coherent across every cache key that could contain the
// same underlying conversations.
package inbox

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/internal/realtime"
	"localspot-sync/internal/transport"
	"localspot-sync/pkg/cache"
	apperrors "localspot-sync/pkg/errors"
	"localspot-sync/pkg/logger"
	"localspot-sync/pkg/metrics"
)

// Snapshot is the state Load hands to the inbox UI
type Snapshot struct {
	Conversations []*domain.Conversation
	// UnreadTotal is always derived by summing the role-relevant counter
	// across the listed conversations, never tracked independently.
	UnreadTotal int
}

// Store is the Conversation Store for one viewer scope
type Store struct {
	viewer domain.Viewer
	api    transport.API
	cache  *cache.ViewCache
	feed   realtime.Feed
	log    *zap.Logger

	mu      sync.Mutex
	loading bool
	sub     realtime.Subscription
}

// New creates a conversation store bound to a viewer scope. The cache is
// shared with every other store in the process; the feed may be nil for
// callers that only want explicit loads.
func New(viewer domain.Viewer, api transport.API, viewCache *cache.ViewCache, feed realtime.Feed) *Store {
	return &Store{
		viewer: viewer,
		api:    api,
		cache:  viewCache,
		feed:   feed,
		log: logger.With(
			zap.String("store", "inbox"),
			zap.String("role", string(viewer.Role)),
		),
	}
}

// key is the cache key for this store's own scope
func (s *Store) key() string {
	return cache.InboxKey(s.viewer.Role, s.viewer.BusinessID)
}

// Start subscribes the store to conversation row changes for its scope.
// Call Stop when the scope unmounts so the subscription does not leak.
func (s *Store) Start(ctx context.Context) error {
	if s.feed == nil {
		return nil
	}

	filter := realtime.Filter{Table: domain.TableConversations}
	switch {
	case s.viewer.Role == domain.RoleBusiness && s.viewer.BusinessID != nil:
		filter.Column = "business_id"
		filter.Value = s.viewer.BusinessID.String()
	case s.viewer.Role == domain.RoleBusiness:
		// A multi-business owner watches by ownership.
		filter.Column = "owner_id"
		filter.Value = s.viewer.UserID.String()
	default:
		filter.Column = "user_id"
		filter.Value = s.viewer.UserID.String()
	}

	sub, err := s.feed.Subscribe(ctx, filter, func(ev domain.ChangeEvent) {
		s.applyChange(ctx, ev)
	})
	if err != nil {
		return apperrors.FeedError(err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Stop tears down the feed subscription
func (s *Store) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Load returns the conversation list for the store's scope, hitting the
// cache while fresh. On a failed fetch the last-known-good list is returned
// together with the error so the UI can keep rendering it behind a banner.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	if v, ok := s.cache.Get(s.key()); ok {
		return s.snapshot(v.([]*domain.Conversation)), nil
	}

	metrics.InboxRefreshTotal.WithLabelValues("load").Inc()
	if err := s.fetch(ctx); err != nil {
		if v, ok := s.cache.Peek(s.key()); ok {
			return s.snapshot(v.([]*domain.Conversation)), err
		}
		return nil, err
	}

	v, _ := s.cache.Peek(s.key())
	return s.snapshot(v.([]*domain.Conversation)), nil
}

// Refresh forces a full revalidation of the current scope, bypassing any
// cached value
func (s *Store) Refresh(ctx context.Context) error {
	metrics.InboxRefreshTotal.WithLabelValues("forced").Inc()
	return s.fetch(ctx)
}

// fetch revalidates against the server, serialized so concurrent callers
// do not issue duplicate list requests
func (s *Store) fetch(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	payload, err := s.api.ListConversations(ctx, s.viewer)
	if err != nil {
		s.log.Warn("conversation list fetch failed", zap.Error(err))
		return err
	}

	conversations := payload.Conversations
	sortConversations(conversations)
	s.cache.Set(s.key(), conversations)
	return nil
}

// snapshot derives the UI-facing view from a cached list
func (s *Store) snapshot(conversations []*domain.Conversation) *Snapshot {
	out := make([]*domain.Conversation, len(conversations))
	copy(out, conversations)

	total := 0
	for _, c := range out {
		total += c.UnreadFor(s.viewer.Role)
	}
	return &Snapshot{Conversations: out, UnreadTotal: total}
}

// sortConversations orders by last_message_at descending; ties keep their
// arbitrary stable order
func sortConversations(conversations []*domain.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastMessageAt.After(conversations[j].LastMessageAt)
	})
}

// applyChange reconciles one conversation row-change event. Updates of
// known conversations are patched in place across all scope keys; inserts
// of unknown conversations and deletions cannot be resolved locally (scope
// membership is a server-side question) so they invalidate and refetch.
func (s *Store) applyChange(ctx context.Context, ev domain.ChangeEvent) {
	switch ev.Kind {
	case domain.ChangeInsert, domain.ChangeUpdate:
		var row domain.Conversation
		if err := ev.DecodeNew(&row); err != nil {
			s.log.Warn("undecodable conversation event", zap.Error(err))
			metrics.FeedEventDroppedTotal.WithLabelValues("decode").Inc()
			return
		}

		patch := patchFromRow(&row)
		if s.ApplyMessagePatch(patch) {
			return
		}
		// Unknown conversation: only the server knows whether it belongs
		// in this scope.
		s.refetchAfterEvent(ctx)

	case domain.ChangeDelete:
		s.refetchAfterEvent(ctx)
	}
}

func (s *Store) refetchAfterEvent(ctx context.Context) {
	s.cache.Invalidate(s.key())
	metrics.InboxRefreshTotal.WithLabelValues("feed").Inc()
	if err := s.fetch(ctx); err != nil {
		s.log.Warn("refresh after feed event failed", zap.Error(err))
	}
}

// patchFromRow converts a full row into an absolute-valued patch
func patchFromRow(row *domain.Conversation) domain.ConversationPatch {
	preview := row.LastMessagePreview
	at := row.LastMessageAt
	userUnread := row.UserUnread
	businessUnread := row.BusinessUnread
	return domain.ConversationPatch{
		ConversationID: row.ConversationID,
		BusinessID:     row.BusinessID,
		Preview:        &preview,
		LastMessageAt:  &at,
		UserUnread:     &userUnread,
		BusinessUnread: &businessUnread,
	}
}

// ApplyMessagePatch propagates one idempotent conversation patch to every
// cache key whose scope could contain the conversation: the user key, the
// generic business key and the business-id key when the id is known. Keys
// with no cached value are skipped (nothing to diverge); keys whose cached
// list lacks the conversation are invalidated instead, since membership
// cannot be decided locally. Returns true when the store's own scope key
// applied the patch in place.
func (s *Store) ApplyMessagePatch(patch domain.ConversationPatch) bool {
	ownApplied := false

	for _, key := range cache.InboxKeysFor(patch.BusinessID) {
		if _, present := s.cache.Peek(key); !present {
			continue
		}

		applied := s.cache.Patch(key, func(value any) (any, bool) {
			conversations, ok := value.([]*domain.Conversation)
			if !ok {
				return value, false
			}
			for _, c := range conversations {
				if c.ConversationID == patch.ConversationID {
					patch.Apply(c)
					sortConversations(conversations)
					return conversations, true
				}
			}
			return value, false
		})

		if applied && key == s.key() {
			ownApplied = true
		}
		if !applied {
			s.cache.Invalidate(key)
		}
	}

	return ownApplied
}

// Conversation returns the cached summary for one conversation in this
// scope, if present
func (s *Store) Conversation(id uuid.UUID) (*domain.Conversation, bool) {
	v, ok := s.cache.Peek(s.key())
	if !ok {
		return nil, false
	}
	for _, c := range v.([]*domain.Conversation) {
		if c.ConversationID == id {
			return c, true
		}
	}
	return nil, false
}

// Viewer returns the scope the store was constructed for
func (s *Store) Viewer() domain.Viewer {
	return s.viewer
}
