package domain

import "encoding/json"

// ChangeKind tags a row-change notification with its operation
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Relation names the feed can be filtered by
const (
	TableConversations = "conversations"
	TableMessages      = "messages"
)

// ChangeEvent is one row-change notification from the feed.
// New holds the row after the change (insert/update), Old the row before
// it (update/delete); either may be absent depending on the operation.
type ChangeEvent struct {
	Kind  ChangeKind      `json:"kind"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// DecodeNew unmarshals the post-change row into v
func (e *ChangeEvent) DecodeNew(v any) error {
	return json.Unmarshal(e.New, v)
}

// DecodeOld unmarshals the pre-change row into v
func (e *ChangeEvent) DecodeOld(v any) error {
	return json.Unmarshal(e.Old, v)
}
