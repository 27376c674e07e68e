// Package thread maintains the message history for one open conversation:
// backward pagination, optimistic sends with explicit retry, and merge of
// out-of-band row changes, while preserving total order with no duplicate
// or lost messages.
package thread

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/internal/realtime"
	"localspot-sync/internal/transport"
	apperrors "localspot-sync/pkg/errors"
	"localspot-sync/pkg/logger"
	"localspot-sync/pkg/metrics"
)

// InboxSync receives cross-view conversation patches so the inbox list
// reflects thread activity without a refetch. Implemented by the inbox
// store; nil disables propagation.
type InboxSync interface {
	ApplyMessagePatch(patch domain.ConversationPatch) bool
}

// page is one contiguous slice of history. messages ascend by created_at;
// nextCursor points at the next older page.
type page struct {
	messages   []*domain.Message
	nextCursor string
	hasMore    bool
}

// Store is the Message Thread Store for one open conversation
type Store struct {
	api      transport.API
	feed     realtime.Feed
	inbox    InboxSync
	viewer   domain.Viewer
	pageSize int
	now      func() time.Time
	log      *zap.Logger

	mu             sync.Mutex
	conversationID uuid.UUID
	businessID     *uuid.UUID // from the conversation row, once known
	// generation bumps on every Open/Close; responses carrying an older
	// generation resolved after a conversation switch are discarded.
	generation   uint64
	pages        []*page // ordered oldest to newest
	loadingOlder bool
	sub          realtime.Subscription
}

// New creates a thread store for a viewer. The store binds to a
// conversation via Open.
func New(viewer domain.Viewer, api transport.API, feed realtime.Feed, inboxSync InboxSync, pageSize int) *Store {
	if pageSize < 1 {
		pageSize = 30
	}
	return &Store{
		api:      api,
		feed:     feed,
		inbox:    inboxSync,
		viewer:   viewer,
		pageSize: pageSize,
		now:      time.Now,
		log: logger.With(
			zap.String("store", "thread"),
			zap.String("role", string(viewer.Role)),
		),
	}
}

// Open binds the store to a conversation, resetting all pagination state so
// no stale history bleeds across conversations, then loads the newest page
// and subscribes to the conversation's message changes.
func (s *Store) Open(ctx context.Context, conversationID uuid.UUID, businessID *uuid.UUID) error {
	if conversationID == uuid.Nil {
		return apperrors.MissingFieldError("conversation_id")
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.conversationID = conversationID
	s.businessID = businessID
	s.pages = nil
	s.loadingOlder = false
	oldSub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if oldSub != nil {
		oldSub.Unsubscribe()
	}

	if s.feed != nil {
		filter := realtime.Filter{
			Table:  domain.TableMessages,
			Column: "conversation_id",
			Value:  conversationID.String(),
		}
		sub, err := s.feed.Subscribe(ctx, filter, s.handleEvent)
		if err != nil {
			return apperrors.FeedError(err)
		}
		s.mu.Lock()
		kept := s.generation == gen
		if kept {
			s.sub = sub
		}
		s.mu.Unlock()
		if !kept {
			sub.Unsubscribe()
		}
	}

	fetched, err := s.api.FetchMessages(ctx, conversationID, "", s.pageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// Conversation switched while the fetch was in flight.
		return nil
	}

	first := &page{
		messages:   fetched.Messages,
		nextCursor: fetched.NextCursor,
		hasMore:    fetched.HasMore,
	}
	// The feed subscription is live before the first page lands, so rows may
	// already have merged while the fetch was in flight. Fold back anything
	// the server snapshot does not contain rather than overwriting it away.
	for _, p := range s.pages {
		for _, m := range p.messages {
			if !m.Pending() && containsServerID(first.messages, m.MessageID) {
				continue
			}
			first.messages = insertOrdered(first.messages, m)
		}
	}
	s.pages = []*page{first}
	return nil
}

// Close unbinds the store and drops its subscription
func (s *Store) Close() {
	s.mu.Lock()
	s.generation++
	s.conversationID = uuid.Nil
	s.businessID = nil
	s.pages = nil
	s.loadingOlder = false
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// ConversationID returns the currently bound conversation, zero when closed
func (s *Store) ConversationID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns the flattened, chronologically ascending view over all
// loaded pages, which is what the UI renders
func (s *Store) Messages() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Message
	for _, p := range s.pages {
		out = append(out, p.messages...)
	}
	return out
}

// HasMore reports whether older history remains unloaded
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pages) == 0 {
		return false
	}
	return s.pages[0].hasMore
}

// LoadOlder fetches the next older page using the oldest loaded page's
// cursor. No-op when no older history exists or a fetch is already in
// flight; a second concurrent call is dropped rather than queued to avoid
// duplicate-page races.
func (s *Store) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingOlder || len(s.pages) == 0 || !s.pages[0].hasMore {
		s.mu.Unlock()
		return nil
	}
	s.loadingOlder = true
	gen := s.generation
	conversationID := s.conversationID
	cursor := s.pages[0].nextCursor
	s.mu.Unlock()

	fetched, err := s.api.FetchMessages(ctx, conversationID, cursor, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return nil
	}
	s.loadingOlder = false
	if err != nil {
		return err
	}

	// Cursor pagination guarantees non-overlap, so the page is prepended
	// as-is and existing pages are never re-sorted.
	s.pages = append([]*page{{
		messages:   fetched.Messages,
		nextCursor: fetched.NextCursor,
		hasMore:    fetched.HasMore,
	}}, s.pages...)
	return nil
}

// Send appends an optimistic message and persists it. The local copy stays
// visible in place through the whole round trip: confirmed sends swap in
// the server record, failed sends keep the message with a retryable failed
// state.
func (s *Store) Send(ctx context.Context, body string) (*domain.Message, error) {
	return s.send(ctx, body, "")
}

// Retry resends a previously failed message, reusing its local id so the
// in-place replacement on success cannot produce a duplicate entry. Only
// failed messages are retried; there is no automatic re-send.
func (s *Store) Retry(ctx context.Context, localID string) (*domain.Message, error) {
	s.mu.Lock()
	existing := s.findByKeyLocked(localID)
	if existing == nil || existing.ClientState != domain.ClientStateFailed {
		s.mu.Unlock()
		return nil, apperrors.ConflictError("message is not retryable")
	}
	body := existing.Body
	s.mu.Unlock()

	metrics.MessageRetryTotal.Inc()
	return s.send(ctx, body, localID)
}

func (s *Store) send(ctx context.Context, body string, retryOf string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		metrics.MessageSendTotal.WithLabelValues("rejected").Inc()
		return nil, apperrors.EmptyBodyError()
	}

	s.mu.Lock()
	if s.conversationID == uuid.Nil {
		s.mu.Unlock()
		metrics.MessageSendTotal.WithLabelValues("rejected").Inc()
		return nil, apperrors.MissingFieldError("conversation_id")
	}
	if s.viewer.Role == domain.RoleBusiness && s.viewer.BusinessID == nil && s.businessID == nil {
		// Business side still provisioning; transient, caller retries later.
		s.mu.Unlock()
		metrics.MessageSendTotal.WithLabelValues("rejected").Inc()
		return nil, apperrors.ProvisioningError()
	}

	gen := s.generation
	conversationID := s.conversationID
	startedAt := s.now()

	var local *domain.Message
	if retryOf != "" {
		// failed -> sending, same entry, same position.
		local = s.findByKeyLocked(retryOf)
		if local == nil {
			s.mu.Unlock()
			return nil, apperrors.ConflictError("message is not retryable")
		}
		local.ClientState = domain.ClientStateSending
	} else {
		local = &domain.Message{
			LocalID:        domain.NewLocalID(),
			ConversationID: conversationID,
			Body:           body,
			SenderType:     s.viewer.Role,
			SenderUserID:   s.viewer.UserID,
			CreatedAt:      startedAt,
			ClientState:    domain.ClientStateSending,
		}
		if s.viewer.Role == domain.RoleBusiness {
			local.SenderBusinessID = s.effectiveBusinessIDLocked()
		}
		s.appendNewestLocked(local)
	}
	s.mu.Unlock()

	// Inbox reflects the send before the server confirms; the real server
	// timestamp supersedes this patch once the response lands.
	s.propagatePreview(body, startedAt)

	serverMsg, err := s.api.SendMessage(ctx, conversationID, s.viewer, body)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		metrics.MessageSendTotal.WithLabelValues("discarded").Inc()
		return nil, nil
	}

	if err != nil {
		// sending -> failed: kept in the thread, visibly marked, exactly
		// where it was inserted.
		local.ClientState = domain.ClientStateFailed
		s.mu.Unlock()
		metrics.MessageSendTotal.WithLabelValues("failed").Inc()
		s.log.Warn("send failed",
			zap.String("local_id", local.LocalID),
			zap.Error(err),
		)
		return local, err
	}

	// sending -> confirmed: swap in the server record at the same position,
	// unless the change feed already delivered it.
	serverMsg.ClientState = domain.ClientStateNone
	if dup := s.findByServerIDLocked(serverMsg.MessageID); dup != nil {
		s.removeByKeyLocked(local.Key())
		*dup = *serverMsg
	} else {
		s.replaceByKeyLocked(local.Key(), serverMsg)
	}
	businessID := s.effectiveBusinessIDLocked()
	s.mu.Unlock()

	metrics.MessageSendTotal.WithLabelValues("confirmed").Inc()
	metrics.MessageSendDuration.Observe(s.now().Sub(startedAt).Seconds())

	// Supersede the optimistic patch with the server timestamp.
	s.propagateTo(conversationID, businessID, serverMsg.Body, serverMsg.CreatedAt)
	return serverMsg, nil
}

// MarkRead zeroes the viewer's unread counter for the open conversation.
// The server call is idempotent; an already-read conversation is a no-op
// success and the counter never drops below zero.
func (s *Store) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	conversationID := s.conversationID
	gen := s.generation
	s.mu.Unlock()

	if conversationID == uuid.Nil {
		return apperrors.MissingFieldError("conversation_id")
	}

	if err := s.api.MarkConversationRead(ctx, conversationID, s.viewer); err != nil {
		metrics.ReadMarkTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.ReadMarkTotal.WithLabelValues("ok").Inc()

	s.mu.Lock()
	stale := s.generation != gen
	s.mu.Unlock()
	if stale || s.inbox == nil {
		return nil
	}

	zero := 0
	patch := domain.ConversationPatch{
		ConversationID: conversationID,
		BusinessID:     s.effectiveBusinessID(),
	}
	if s.viewer.Role == domain.RoleBusiness {
		patch.BusinessUnread = &zero
	} else {
		patch.UserUnread = &zero
	}
	s.inbox.ApplyMessagePatch(patch)
	return nil
}

// handleEvent merges one message row-change into the loaded pages
func (s *Store) handleEvent(ev domain.ChangeEvent) {
	var row domain.Message
	var err error
	if ev.Kind == domain.ChangeDelete {
		// Deletes carry the removed row in the old image only.
		err = ev.DecodeOld(&row)
	} else {
		err = ev.DecodeNew(&row)
	}
	if err != nil {
		metrics.FeedEventDroppedTotal.WithLabelValues("decode").Inc()
		return
	}

	s.mu.Lock()
	if row.ConversationID != s.conversationID {
		// Response or event for a conversation we already switched away
		// from; never merge it.
		s.mu.Unlock()
		metrics.FeedEventDroppedTotal.WithLabelValues("stale_scope").Inc()
		return
	}

	switch ev.Kind {
	case domain.ChangeInsert:
		if row.SentBy(s.viewer.Role) {
			// Own sends are reconciled through the send response, not the
			// feed, so the race between the two cannot duplicate.
			s.mu.Unlock()
			return
		}
		if s.findByServerIDLocked(row.MessageID) != nil {
			s.mu.Unlock()
			metrics.FeedEventDroppedTotal.WithLabelValues("duplicate").Inc()
			return
		}
		row.ClientState = domain.ClientStateNone
		s.insertOrderedLocked(&row)
		conversationID := s.conversationID
		businessID := s.effectiveBusinessIDLocked()
		s.mu.Unlock()

		s.propagateTo(conversationID, businessID, row.Body, row.CreatedAt)
		return

	case domain.ChangeUpdate:
		// Status transitions (delivered/read) patch the confirmed message
		// in place. A miss means the page is not loaded; the fields are
		// re-read from the server on page load, so dropping is safe.
		if existing := s.findByServerIDLocked(row.MessageID); existing != nil {
			existing.Status = row.Status
			existing.DeliveredAt = row.DeliveredAt
			existing.ReadAt = row.ReadAt
		} else {
			metrics.FeedEventDroppedTotal.WithLabelValues("unloaded_page").Inc()
		}

	case domain.ChangeDelete:
		// Server-side removals (moderation) drop the row from the loaded
		// view; a miss means the page was never loaded.
		if !row.Pending() {
			s.removeByKeyLocked(row.MessageID.String())
		}
	}
	s.mu.Unlock()
}

// propagatePreview pushes a preview/timestamp patch to every inbox view
func (s *Store) propagatePreview(body string, at time.Time) {
	s.mu.Lock()
	conversationID := s.conversationID
	businessID := s.effectiveBusinessIDLocked()
	s.mu.Unlock()
	s.propagateTo(conversationID, businessID, body, at)
}

func (s *Store) propagateTo(conversationID uuid.UUID, businessID *uuid.UUID, body string, at time.Time) {
	if s.inbox == nil || conversationID == uuid.Nil {
		return
	}
	preview := domain.PreviewOf(body)
	s.inbox.ApplyMessagePatch(domain.ConversationPatch{
		ConversationID: conversationID,
		BusinessID:     businessID,
		Preview:        &preview,
		LastMessageAt:  &at,
	})
}

func (s *Store) effectiveBusinessID() *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveBusinessIDLocked()
}

func (s *Store) effectiveBusinessIDLocked() *uuid.UUID {
	if s.businessID != nil {
		return s.businessID
	}
	return s.viewer.BusinessID
}

// appendNewestLocked appends a message to the most recent page, creating a
// first page when none is loaded yet
func (s *Store) appendNewestLocked(m *domain.Message) {
	if len(s.pages) == 0 {
		s.pages = []*page{{}}
	}
	last := s.pages[len(s.pages)-1]
	last.messages = append(last.messages, m)
}

// insertOrderedLocked places a remote message into the newest page keeping
// the ascending created_at order, so out-of-order arrivals cannot break the
// display order
func (s *Store) insertOrderedLocked(m *domain.Message) {
	if len(s.pages) == 0 {
		s.pages = []*page{{}}
	}
	last := s.pages[len(s.pages)-1]
	last.messages = insertOrdered(last.messages, m)
}

// insertOrdered returns msgs with m inserted at its ascending created_at
// position
func insertOrdered(msgs []*domain.Message, m *domain.Message) []*domain.Message {
	i := len(msgs)
	for i > 0 && msgs[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	msgs = append(msgs, nil)
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}

func containsServerID(msgs []*domain.Message, id uuid.UUID) bool {
	for _, m := range msgs {
		if !m.Pending() && m.MessageID == id {
			return true
		}
	}
	return false
}

func (s *Store) findByKeyLocked(key string) *domain.Message {
	for _, p := range s.pages {
		for _, m := range p.messages {
			if m.Key() == key {
				return m
			}
		}
	}
	return nil
}

func (s *Store) findByServerIDLocked(id uuid.UUID) *domain.Message {
	if id == uuid.Nil {
		return nil
	}
	for _, p := range s.pages {
		for _, m := range p.messages {
			if !m.Pending() && m.MessageID == id {
				return m
			}
		}
	}
	return nil
}

// replaceByKeyLocked swaps the message identified by key with the
// replacement, preserving its position in the page
func (s *Store) replaceByKeyLocked(key string, replacement *domain.Message) {
	for _, p := range s.pages {
		for i, m := range p.messages {
			if m.Key() == key {
				p.messages[i] = replacement
				return
			}
		}
	}
}

func (s *Store) removeByKeyLocked(key string) {
	for _, p := range s.pages {
		for i, m := range p.messages {
			if m.Key() == key {
				p.messages = append(p.messages[:i], p.messages[i+1:]...)
				return
			}
		}
	}
}
