// Package readreceipt decides when a visible thread gets marked as read,
// decoupled from the UI's visibility logic.
package readreceipt

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/pkg/logger"
)

// DefaultDebounce is how long the trigger condition must hold before the
// mark fires. Long enough that a message flickering into view during a
// fast scroll does not get marked.
const DefaultDebounce = 600 * time.Millisecond

// MarkFunc performs the actual read-marking side effect
type MarkFunc func(ctx context.Context) error

// View is what the coordinator observes about the currently rendered thread
type View struct {
	ConversationID uuid.UUID
	// Visible means this thread is the one on screen right now.
	Visible bool
	// LastSender is the author role of the most recent loaded message.
	LastSender domain.Role
	// HasUnread means at least one unread message plausibly exists.
	HasUnread bool
}

// Coordinator fires the mark-as-read side effect at most once per
// "becomes visible with unread tail" event, debounced. It owns its timer
// explicitly: every precondition change cancels a pending fire.
type Coordinator struct {
	viewerRole domain.Role
	mark       MarkFunc
	debounce   time.Duration
	log        *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
	armed uuid.UUID // conversation the pending fire belongs to
}

// New creates a coordinator for a viewer role. A non-positive debounce
// falls back to the default.
func New(viewerRole domain.Role, mark MarkFunc, debounce time.Duration) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Coordinator{
		viewerRole: viewerRole,
		mark:       mark,
		debounce:   debounce,
		log:        logger.With(zap.String("store", "readreceipt")),
	}
}

// Observe feeds the coordinator the current view state. The trigger
// condition is: thread visible, newest message authored by the counterpart
// (never self), and an unread tail plausibly present. While the condition
// holds for one conversation the pending timer is left alone; any change
// that breaks it cancels the pending fire.
func (c *Coordinator) Observe(ctx context.Context, view View) {
	c.mu.Lock()
	defer c.mu.Unlock()

	triggered := view.Visible &&
		view.ConversationID != uuid.Nil &&
		view.LastSender == c.viewerRole.Counterpart() &&
		view.HasUnread

	if !triggered {
		c.cancelLocked()
		return
	}

	if c.armed == view.ConversationID && c.timer != nil {
		// Already pending for this conversation; do not restart the clock.
		return
	}

	c.cancelLocked()
	c.armed = view.ConversationID
	conversationID := view.ConversationID
	c.timer = time.AfterFunc(c.debounce, func() {
		c.fire(ctx, conversationID)
	})
}

// Reset cancels any pending fire, e.g. when the thread closes
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Coordinator) cancelLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.armed = uuid.Nil
}

func (c *Coordinator) fire(ctx context.Context, conversationID uuid.UUID) {
	c.mu.Lock()
	if c.armed != conversationID {
		// Cancelled between the timer firing and us getting the lock.
		c.mu.Unlock()
		return
	}
	c.cancelLocked()
	c.mu.Unlock()

	if err := c.mark(ctx); err != nil {
		c.log.Warn("mark-as-read failed",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err),
		)
	}
}
