package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"localspot-sync/internal/domain"
	"localspot-sync/internal/realtime"
	"localspot-sync/internal/transport"
	"localspot-sync/pkg/cache"
	apperrors "localspot-sync/pkg/errors"
)

// Mocks

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) ListConversations(ctx context.Context, viewer domain.Viewer) (*transport.Inbox, error) {
	args := m.Called(ctx, viewer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transport.Inbox), args.Error(1)
}

func (m *MockAPI) FetchMessages(ctx context.Context, conversationID uuid.UUID, cursor string, limit int) (*domain.MessagePage, error) {
	args := m.Called(ctx, conversationID, cursor, limit)
	return args.Get(0).(*domain.MessagePage), args.Error(1)
}

func (m *MockAPI) SendMessage(ctx context.Context, conversationID uuid.UUID, sender domain.Viewer, body string) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, sender, body)
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockAPI) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, viewer domain.Viewer) error {
	args := m.Called(ctx, conversationID, viewer)
	return args.Error(0)
}

func (m *MockAPI) CreateConversation(ctx context.Context, businessID uuid.UUID, targetUserID *uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, businessID, targetUserID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
}

type fakeSub struct {
	feed    *fakeFeed
	filter  realtime.Filter
	handler realtime.Handler
	active  bool
}

func (s *fakeSub) Unsubscribe() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.active = false
}

func (f *fakeFeed) Subscribe(ctx context.Context, filter realtime.Filter, handler realtime.Handler) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub{feed: f, filter: filter, handler: handler, active: true}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) Emit(ev domain.ChangeEvent) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs...)
	f.mu.Unlock()
	for _, sub := range subs {
		if sub.active && sub.filter.Matches(ev) {
			sub.handler(ev)
		}
	}
}

// Helpers

func conversationFor(userID uuid.UUID, preview string, at time.Time, userUnread, businessUnread int) *domain.Conversation {
	businessID := uuid.New()
	return &domain.Conversation{
		ConversationID:     uuid.New(),
		UserID:             userID,
		BusinessID:         &businessID,
		LastMessageAt:      at,
		LastMessagePreview: preview,
		UserUnread:         userUnread,
		BusinessUnread:     businessUnread,
		CreatedAt:          at.Add(-time.Hour),
	}
}

func conversationEvent(kind domain.ChangeKind, conv *domain.Conversation) domain.ChangeEvent {
	raw, _ := json.Marshal(conv)
	ev := domain.ChangeEvent{Kind: kind, Table: domain.TableConversations}
	if kind == domain.ChangeDelete {
		ev.Old = raw
	} else {
		ev.New = raw
	}
	return ev
}

// Tests

func TestLoadSortsAndDerivesUnread(t *testing.T) {
	api := new(MockAPI)
	userID := uuid.New()
	viewer := domain.Viewer{Role: domain.RoleUser, UserID: userID}
	store := New(viewer, api, cache.NewViewCache(time.Minute), nil)

	ctx := context.Background()
	now := time.Now()
	older := conversationFor(userID, "older", now.Add(-time.Hour), 2, 9)
	newer := conversationFor(userID, "newer", now, 1, 9)

	api.On("ListConversations", ctx, viewer).Return(&transport.Inbox{
		Conversations: []*domain.Conversation{older, newer},
	}, nil).Once()

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Conversations, 2)
	assert.Equal(t, "newer", snap.Conversations[0].LastMessagePreview)
	assert.Equal(t, "older", snap.Conversations[1].LastMessagePreview)
	// Derived from the role-relevant counters only; the business counters
	// are invisible to a user viewer.
	assert.Equal(t, 3, snap.UnreadTotal)

	// Second load inside the freshness bound is a cache hit.
	snap, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Conversations, 2)
	api.AssertExpectations(t)
}

func TestLoadKeepsLastKnownGoodOnError(t *testing.T) {
	api := new(MockAPI)
	userID := uuid.New()
	viewer := domain.Viewer{Role: domain.RoleUser, UserID: userID}
	viewCache := cache.NewViewCache(time.Minute)
	store := New(viewer, api, viewCache, nil)

	ctx := context.Background()
	conv := conversationFor(userID, "hello", time.Now(), 1, 0)

	api.On("ListConversations", ctx, viewer).Return(&transport.Inbox{
		Conversations: []*domain.Conversation{conv},
	}, nil).Once()
	_, err := store.Load(ctx)
	require.NoError(t, err)

	// The cached list goes stale, and revalidation fails.
	viewCache.Invalidate(cache.InboxKey(domain.RoleUser, nil))
	api.On("ListConversations", ctx, viewer).
		Return(nil, apperrors.TransportError(errors.New("gateway timeout"))).Once()

	snap, err := store.Load(ctx)
	require.Error(t, err)
	require.NotNil(t, snap, "last-known-good list survives the failed reload")
	assert.Len(t, snap.Conversations, 1)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestLoadAuthErrorIsDistinct(t *testing.T) {
	api := new(MockAPI)
	viewer := domain.Viewer{Role: domain.RoleUser, UserID: uuid.New()}
	store := New(viewer, api, cache.NewViewCache(time.Minute), nil)

	ctx := context.Background()
	api.On("ListConversations", ctx, viewer).
		Return(nil, apperrors.ExpiredTokenError()).Once()

	snap, err := store.Load(ctx)
	assert.Nil(t, snap)
	assert.True(t, apperrors.IsAuth(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestApplyMessagePatchReachesEveryScopeKey(t *testing.T) {
	api := new(MockAPI)
	businessID := uuid.New()
	userID := uuid.New()
	viewer := domain.Viewer{Role: domain.RoleBusiness, UserID: uuid.New(), BusinessID: &businessID}
	viewCache := cache.NewViewCache(time.Minute)
	store := New(viewer, api, viewCache, nil)

	base := time.Now().Add(-time.Hour)
	conversationID := uuid.New()
	seed := func() *domain.Conversation {
		return &domain.Conversation{
			ConversationID:     conversationID,
			UserID:             userID,
			BusinessID:         &businessID,
			LastMessageAt:      base,
			LastMessagePreview: "Hi",
			BusinessUnread:     3,
		}
	}
	other := conversationFor(userID, "other thread", base.Add(30*time.Minute), 0, 1)

	// Three overlapping views of the same underlying conversation.
	userKey := cache.InboxKey(domain.RoleUser, nil)
	bizKey := cache.InboxKey(domain.RoleBusiness, nil)
	scopedKey := cache.InboxKey(domain.RoleBusiness, &businessID)
	viewCache.Set(userKey, []*domain.Conversation{seed(), other})
	viewCache.Set(bizKey, []*domain.Conversation{seed()})
	viewCache.Set(scopedKey, []*domain.Conversation{seed()})

	preview := "Thanks!"
	at := time.Now()
	zero := 0
	patch := domain.ConversationPatch{
		ConversationID: conversationID,
		BusinessID:     &businessID,
		Preview:        &preview,
		LastMessageAt:  &at,
		BusinessUnread: &zero,
	}
	assert.True(t, store.ApplyMessagePatch(patch))

	for _, key := range []string{userKey, bizKey, scopedKey} {
		value, ok := viewCache.Get(key)
		require.True(t, ok, key)
		conversations := value.([]*domain.Conversation)
		assert.Equal(t, conversationID, conversations[0].ConversationID,
			"%s: patched conversation re-sorted to the top", key)
		assert.Equal(t, "Thanks!", conversations[0].LastMessagePreview)
		assert.Equal(t, 0, conversations[0].BusinessUnread)
	}

	// Idempotent: replaying the patch changes nothing.
	assert.True(t, store.ApplyMessagePatch(patch))
	value, _ := viewCache.Get(scopedKey)
	conversations := value.([]*domain.Conversation)
	assert.Equal(t, "Thanks!", conversations[0].LastMessagePreview)
	assert.Equal(t, 0, conversations[0].BusinessUnread)
}

func TestApplyMessagePatchInvalidatesUnknownConversation(t *testing.T) {
	api := new(MockAPI)
	viewer := domain.Viewer{Role: domain.RoleUser, UserID: uuid.New()}
	viewCache := cache.NewViewCache(time.Minute)
	store := New(viewer, api, viewCache, nil)

	key := cache.InboxKey(domain.RoleUser, nil)
	viewCache.Set(key, []*domain.Conversation{})

	preview := "new thread"
	patch := domain.ConversationPatch{ConversationID: uuid.New(), Preview: &preview}
	assert.False(t, store.ApplyMessagePatch(patch))

	// Membership cannot be decided locally, so the key went stale.
	_, fresh := viewCache.Get(key)
	assert.False(t, fresh)
	_, present := viewCache.Peek(key)
	assert.True(t, present)
}

func TestFeedUpdatePatchesInPlace(t *testing.T) {
	api := new(MockAPI)
	userID := uuid.New()
	viewer := domain.Viewer{Role: domain.RoleUser, UserID: userID}
	viewCache := cache.NewViewCache(time.Minute)
	feed := &fakeFeed{}
	store := New(viewer, api, viewCache, feed)

	ctx := context.Background()
	conv := conversationFor(userID, "before", time.Now().Add(-time.Minute), 0, 0)

	api.On("ListConversations", ctx, viewer).Return(&transport.Inbox{
		Conversations: []*domain.Conversation{conv},
	}, nil).Once()
	require.NoError(t, store.Start(ctx))
	defer store.Stop()
	_, err := store.Load(ctx)
	require.NoError(t, err)

	updated := *conv
	updated.LastMessagePreview = "after"
	updated.LastMessageAt = time.Now()
	updated.UserUnread = 1
	feed.Emit(conversationEvent(domain.ChangeUpdate, &updated))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "after", snap.Conversations[0].LastMessagePreview)
	assert.Equal(t, 1, snap.UnreadTotal)
	// Patched in place: no second list fetch happened.
	api.AssertExpectations(t)
}

func TestFeedInsertOfUnknownConversationRefetches(t *testing.T) {
	api := new(MockAPI)
	userID := uuid.New()
	viewer := domain.Viewer{Role: domain.RoleUser, UserID: userID}
	feed := &fakeFeed{}
	store := New(viewer, api, cache.NewViewCache(time.Minute), feed)

	ctx := context.Background()
	existing := conversationFor(userID, "existing", time.Now().Add(-time.Hour), 0, 0)
	brandNew := conversationFor(userID, "brand new", time.Now(), 1, 0)

	api.On("ListConversations", ctx, viewer).Return(&transport.Inbox{
		Conversations: []*domain.Conversation{existing},
	}, nil).Once()
	api.On("ListConversations", ctx, viewer).Return(&transport.Inbox{
		Conversations: []*domain.Conversation{brandNew, existing},
	}, nil).Once()

	require.NoError(t, store.Start(ctx))
	defer store.Stop()
	_, err := store.Load(ctx)
	require.NoError(t, err)

	// Scope membership of a new conversation is a server-side question.
	feed.Emit(conversationEvent(domain.ChangeInsert, brandNew))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Conversations, 2)
	assert.Equal(t, "brand new", snap.Conversations[0].LastMessagePreview)
	api.AssertExpectations(t)
}

func TestRefreshBypassesCache(t *testing.T) {
	api := new(MockAPI)
	userID := uuid.New()
	viewer := domain.Viewer{Role: domain.RoleUser, UserID: userID}
	store := New(viewer, api, cache.NewViewCache(time.Minute), nil)

	ctx := context.Background()
	api.On("ListConversations", ctx, viewer).Return(&transport.Inbox{
		Conversations: []*domain.Conversation{conversationFor(userID, "v1", time.Now(), 0, 0)},
	}, nil).Twice()

	_, err := store.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Refresh(ctx))
	api.AssertExpectations(t)
}
