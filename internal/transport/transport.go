// Package transport defines the contract the sync core consumes from the
// collaborator-owned message API, plus an HTTP implementation of it. The
// core tolerates partial failure of every call here: errors come back as
// values classified by pkg/errors, never as panics.
package transport

import (
	"context"

	"github.com/google/uuid"

	"localspot-sync/internal/domain"
)

// Inbox is the conversation list payload for one viewer scope
type Inbox struct {
	Conversations []*domain.Conversation `json:"conversations"`
	UnreadTotal   int                    `json:"unread_total"`
}

// API is the request/response surface of the remote message API
type API interface {
	// ListConversations returns the conversation summaries for a viewer,
	// sorted by last_message_at descending, plus the server's unread total.
	ListConversations(ctx context.Context, viewer domain.Viewer) (*Inbox, error)

	// FetchMessages returns one page of history ascending by created_at.
	// An empty cursor means the newest page.
	FetchMessages(ctx context.Context, conversationID uuid.UUID, cursor string, limit int) (*domain.MessagePage, error)

	// SendMessage persists a message and returns the server copy with its
	// assigned id and timestamps.
	SendMessage(ctx context.Context, conversationID uuid.UUID, sender domain.Viewer, body string) (*domain.Message, error)

	// MarkConversationRead zeroes the viewer's unread counter. Idempotent:
	// marking an already-read conversation succeeds as a no-op.
	MarkConversationRead(ctx context.Context, conversationID uuid.UUID, viewer domain.Viewer) error

	// CreateConversation asks the conversation-creation collaborator for a
	// thread with the given business, returning its id. The caller is then
	// responsible for opening it.
	CreateConversation(ctx context.Context, businessID uuid.UUID, targetUserID *uuid.UUID) (uuid.UUID, error)
}
