package readreceipt

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"localspot-sync/internal/domain"
)

func countingMark(calls *atomic.Int32) MarkFunc {
	return func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}
}

func TestFiresAfterDebounce(t *testing.T) {
	var calls atomic.Int32
	c := New(domain.RoleUser, countingMark(&calls), 20*time.Millisecond)

	c.Observe(context.Background(), View{
		ConversationID: uuid.New(),
		Visible:        true,
		LastSender:     domain.RoleBusiness,
		HasUnread:      true,
	})

	assert.Equal(t, int32(0), calls.Load(), "must not fire before the debounce elapses")
	assert.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHoldingConditionDoesNotRestartClock(t *testing.T) {
	var calls atomic.Int32
	c := New(domain.RoleUser, countingMark(&calls), 30*time.Millisecond)

	conversationID := uuid.New()
	ctx := context.Background()

	// Re-observing the same held condition every few milliseconds must not
	// push the fire out indefinitely. Once the mark lands the unread tail is
	// gone, so subsequent observations stop triggering.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.Observe(ctx, View{
			ConversationID: conversationID,
			Visible:        true,
			LastSender:     domain.RoleBusiness,
			HasUnread:      calls.Load() == 0,
		})
		time.Sleep(5 * time.Millisecond)
	}
	c.Reset()

	assert.Equal(t, int32(1), calls.Load(), "fires once per becomes-visible event")
}

func TestVisibilityLossCancelsPendingFire(t *testing.T) {
	var calls atomic.Int32
	c := New(domain.RoleUser, countingMark(&calls), 30*time.Millisecond)

	view := View{
		ConversationID: uuid.New(),
		Visible:        true,
		LastSender:     domain.RoleBusiness,
		HasUnread:      true,
	}
	ctx := context.Background()

	c.Observe(ctx, view)
	view.Visible = false
	c.Observe(ctx, view)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestSelfAuthoredTailNeverTriggers(t *testing.T) {
	var calls atomic.Int32
	c := New(domain.RoleUser, countingMark(&calls), 10*time.Millisecond)

	c.Observe(context.Background(), View{
		ConversationID: uuid.New(),
		Visible:        true,
		LastSender:     domain.RoleUser, // own message, nothing to acknowledge
		HasUnread:      true,
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestConversationSwitchRestartsClock(t *testing.T) {
	var calls atomic.Int32
	c := New(domain.RoleBusiness, countingMark(&calls), 30*time.Millisecond)

	ctx := context.Background()
	first := uuid.New()
	second := uuid.New()

	c.Observe(ctx, View{ConversationID: first, Visible: true, LastSender: domain.RoleUser, HasUnread: true})
	time.Sleep(15 * time.Millisecond)
	c.Observe(ctx, View{ConversationID: second, Visible: true, LastSender: domain.RoleUser, HasUnread: true})
	time.Sleep(20 * time.Millisecond)

	// The first conversation's pending fire was cancelled by the switch; only
	// the second one is armed and it has not elapsed its full window yet when
	// the first window would have.
	assert.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestResetCancelsPendingFire(t *testing.T) {
	var calls atomic.Int32
	c := New(domain.RoleUser, countingMark(&calls), 30*time.Millisecond)

	c.Observe(context.Background(), View{
		ConversationID: uuid.New(),
		Visible:        true,
		LastSender:     domain.RoleBusiness,
		HasUnread:      true,
	})
	c.Reset()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
