package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the server-owned delivery status of a persisted message
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// ClientState is the client-only transient state driving optimistic UI.
// Empty once the server copy has been merged in; never persisted.
type ClientState string

const (
	ClientStateNone    ClientState = ""
	ClientStateSending ClientState = "sending"
	ClientStateFailed  ClientState = "failed"
)

// localIDPrefix keeps locally assigned ids in a value space disjoint from
// server-assigned UUIDs, so the two can never be confused.
const localIDPrefix = "local-"

// NewLocalID mints an identity for a message the server has not seen yet
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// Message represents one directed communication inside a Conversation.
// MessageID is zero until the server has acknowledged the message; until
// then the message is identified by LocalID.
type Message struct {
	MessageID      uuid.UUID `json:"message_id"`
	LocalID        string    `json:"-"`
	ConversationID uuid.UUID `json:"conversation_id"`

	Body             string     `json:"body"`
	SenderType       Role       `json:"sender_type"`
	SenderUserID     uuid.UUID  `json:"sender_user_id"`
	SenderBusinessID *uuid.UUID `json:"sender_business_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`

	// Server-owned, client-mirrored.
	Status      MessageStatus `json:"status"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	ReadAt      *time.Time    `json:"read_at,omitempty"`

	ClientState ClientState `json:"-"`
}

// Pending reports whether the message still lacks a server identity
func (m *Message) Pending() bool {
	return m.MessageID == uuid.Nil
}

// Key returns the identity the thread store indexes the message by:
// the server id once assigned, the local id before that.
func (m *Message) Key() string {
	if m.Pending() {
		return m.LocalID
	}
	return m.MessageID.String()
}

// SentBy reports whether the message was authored by the given viewer role
func (m *Message) SentBy(role Role) bool {
	return m.SenderType == role
}

func (m *Message) String() string {
	return fmt.Sprintf("message %s (conv %s, %s)", m.Key(), m.ConversationID, m.SenderType)
}

// MessagePage is one contiguous slice of history, ascending by created_at
type MessagePage struct {
	Messages   []*Message `json:"messages"`
	HasMore    bool       `json:"has_more"`
	NextCursor string     `json:"next_cursor,omitempty"`
}
