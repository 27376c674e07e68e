// Package realtime delivers row-change notifications from the hosted store
// to the sync stores. Feed disconnects are never surfaced to the UI: each
// adapter reconnects transparently and missed events are reconciled lazily
// by the next explicit load or refresh.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"localspot-sync/internal/domain"
)

// Filter selects the events a subscription receives: a relation name plus
// an optional equality predicate on one column of the changed row.
type Filter struct {
	Table  string
	Column string
	Value  string
}

// String renders the filter as a channel-name-safe identifier
func (f Filter) String() string {
	if f.Column == "" {
		return f.Table
	}
	return fmt.Sprintf("%s:%s:%s", f.Table, f.Column, f.Value)
}

// Matches reports whether an event satisfies the filter. Delete events are
// matched against the old row since the new one is absent.
func (f Filter) Matches(ev domain.ChangeEvent) bool {
	if ev.Table != f.Table {
		return false
	}
	if f.Column == "" {
		return true
	}

	raw := ev.New
	if ev.Kind == domain.ChangeDelete {
		raw = ev.Old
	}
	if len(raw) == 0 {
		return false
	}

	var row map[string]json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil {
		return false
	}
	field, ok := row[f.Column]
	if !ok {
		return false
	}

	var value string
	if err := json.Unmarshal(field, &value); err != nil {
		// Non-string columns compare by raw JSON text.
		value = string(field)
	}
	return value == f.Value
}

// Handler consumes one change event. Handlers run on the adapter's read
// goroutine and must not block.
type Handler func(domain.ChangeEvent)

// Subscription is a live, cancellable feed registration
type Subscription interface {
	// Unsubscribe tears the registration down. Idempotent; must be called
	// on every scope switch so subscriptions never leak across
	// conversations.
	Unsubscribe()
}

// Feed is a subscribable row-change notification source
type Feed interface {
	Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error)
}
