package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of a conversation a viewer is on
type Role string

const (
	RoleUser     Role = "user"
	RoleBusiness Role = "business"
)

// Counterpart returns the opposite role
func (r Role) Counterpart() Role {
	if r == RoleUser {
		return RoleBusiness
	}
	return RoleUser
}

// Viewer is the identity a store operates on behalf of.
// BusinessID is only set for business-role viewers scoped to one specific
// business; a business viewer managing several leaves it nil.
type Viewer struct {
	Role       Role       `json:"role"`
	UserID     uuid.UUID  `json:"user_id"`
	BusinessID *uuid.UUID `json:"business_id,omitempty"`
}

// Conversation represents one thread between an end user and a business
// Maps to the conversations table of the hosted relational store
type Conversation struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	// BusinessID can be null for a short window right after creation,
	// while the conversation row is still being provisioned server-side.
	BusinessID *uuid.UUID `json:"business_id,omitempty"`
	OwnerID    *uuid.UUID `json:"owner_id,omitempty"` // multi-owner businesses

	// Counterpart display projections, denormalized server-side.
	// Read-only: the sync core never mutates these.
	BusinessName     string  `json:"business_name"`
	BusinessImageURL *string `json:"business_image_url,omitempty"`
	UserName         string  `json:"user_name"`
	UserAvatarURL    *string `json:"user_avatar_url,omitempty"`

	LastMessageAt      time.Time `json:"last_message_at"`
	LastMessagePreview string    `json:"last_message_preview"`

	// Two independent role-scoped counters; a viewer only ever reads its own.
	UserUnread     int `json:"user_unread"`
	BusinessUnread int `json:"business_unread"`

	CreatedAt time.Time `json:"created_at"`
}

// UnreadFor returns the counter relevant to the given viewer role
func (c *Conversation) UnreadFor(role Role) int {
	if role == RoleBusiness {
		return c.BusinessUnread
	}
	return c.UserUnread
}

// SetUnreadFor assigns the counter relevant to the given viewer role
func (c *Conversation) SetUnreadFor(role Role, n int) {
	if n < 0 {
		n = 0
	}
	if role == RoleBusiness {
		c.BusinessUnread = n
		return
	}
	c.UserUnread = n
}

// Provisioned reports whether the server has resolved the business side
// of the thread yet. Business-role operations must defer until it has.
func (c *Conversation) Provisioned() bool {
	return c.BusinessID != nil
}

// ConversationPatch is an idempotent, absolute-valued update to one
// conversation's rolling state. Applying the same patch twice yields the
// same result, which is what makes cross-view propagation order-free.
// Counters carry absolute values, never deltas.
type ConversationPatch struct {
	ConversationID uuid.UUID
	BusinessID     *uuid.UUID // scope hint for the business-id cache key
	Preview        *string
	LastMessageAt  *time.Time
	UserUnread     *int
	BusinessUnread *int
}

// Apply overwrites the patched fields on the conversation in place
func (p *ConversationPatch) Apply(c *Conversation) {
	if p.Preview != nil {
		c.LastMessagePreview = *p.Preview
	}
	if p.LastMessageAt != nil {
		c.LastMessageAt = *p.LastMessageAt
	}
	if p.UserUnread != nil {
		c.SetUnreadFor(RoleUser, *p.UserUnread)
	}
	if p.BusinessUnread != nil {
		c.SetUnreadFor(RoleBusiness, *p.BusinessUnread)
	}
}

// PreviewMaxLen bounds the denormalized preview text
const PreviewMaxLen = 80

// PreviewOf truncates a message body for inbox display
func PreviewOf(body string) string {
	runes := []rune(body)
	if len(runes) <= PreviewMaxLen {
		return body
	}
	return string(runes[:PreviewMaxLen-1]) + "…"
}
