// Package cursor implements the opaque pagination tokens used by the
// message page contract. A cursor references the oldest item already seen
// (timestamp + id), so backward pagination never suffers offset drift when
// new messages arrive at the head of the thread.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cursor points just before one message in a conversation's history
type Cursor struct {
	Before    time.Time `json:"before"`
	MessageID uuid.UUID `json:"message_id"`
}

// Page limits
const (
	DefaultLimit = 30
	MaxLimit     = 100
	MinLimit     = 1
)

// Encode serializes the cursor into an opaque URL-safe token
func Encode(c Cursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// Decode parses an opaque token back into a cursor
func Decode(token string) (Cursor, error) {
	var c Cursor
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("invalid cursor token: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("invalid cursor payload: %w", err)
	}
	return c, nil
}

// ClampLimit normalizes a requested page size into the allowed range
func ClampLimit(limit int) int {
	if limit < MinLimit {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
