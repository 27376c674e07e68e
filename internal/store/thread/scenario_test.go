package thread

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localspot-sync/internal/domain"
	"localspot-sync/internal/store/inbox"
	"localspot-sync/internal/transport"
	"localspot-sync/pkg/cache"
)

// A business viewer works through a full exchange: load the inbox, open the
// thread, reply, mark read, then receive a realtime follow-up. The inbox
// view must track every step without a refetch.
func TestBusinessConversationExchange(t *testing.T) {
	businessID := uuid.New()
	userID := uuid.New()
	conversationID := uuid.New()
	viewer := businessViewer(businessID)
	ctx := context.Background()
	base := time.Now().Add(-30 * time.Minute)

	api := new(MockAPI)
	feed := &fakeFeed{}
	viewCache := cache.NewViewCache(time.Minute)
	inboxStore := inbox.New(viewer, api, viewCache, nil)
	threadStore := New(viewer, api, feed, inboxStore, 30)

	history := []*domain.Message{}
	for i, body := range []string{"Do you have patio seating?", "For tonight", "Hi"} {
		m := serverMessage(conversationID, domain.RoleUser, body, base.Add(time.Duration(i)*time.Minute))
		m.SenderUserID = userID
		history = append(history, m)
	}
	last := history[len(history)-1]

	conversation := &domain.Conversation{
		ConversationID:     conversationID,
		UserID:             userID,
		BusinessID:         &businessID,
		UserName:           "Dana",
		LastMessageAt:      last.CreatedAt,
		LastMessagePreview: "Hi",
		BusinessUnread:     3,
	}

	api.On("ListConversations", ctx, viewer).Return(&transport.Inbox{
		Conversations: []*domain.Conversation{conversation},
		UnreadTotal:   3,
	}, nil).Once()
	api.On("FetchMessages", ctx, conversationID, "", 30).Return(&domain.MessagePage{
		Messages: history,
	}, nil)

	snap, err := inboxStore.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, 3, snap.UnreadTotal)
	assert.Equal(t, "Hi", snap.Conversations[0].LastMessagePreview)

	require.NoError(t, threadStore.Open(ctx, conversationID, &businessID))
	require.Len(t, threadStore.Messages(), 3)

	// Business replies; the inbox reflects the send without a refetch.
	reply := serverMessage(conversationID, domain.RoleBusiness, "Thanks! Yes we do", base.Add(5*time.Minute))
	reply.SenderBusinessID = &businessID
	api.On("SendMessage", ctx, conversationID, viewer, "Thanks! Yes we do").Return(reply, nil)
	api.On("MarkConversationRead", ctx, conversationID, viewer).Return(nil)

	_, err = threadStore.Send(ctx, "Thanks! Yes we do")
	require.NoError(t, err)
	require.NoError(t, threadStore.MarkRead(ctx))

	msgs := threadStore.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, reply.MessageID, msgs[3].MessageID)

	snap, err = inboxStore.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Thanks! Yes we do", snap.Conversations[0].LastMessagePreview)
	assert.Equal(t, 0, snap.UnreadTotal)

	// The user answers out of band; the feed grows the thread in order and
	// the inbox preview follows. The business counter stays at zero.
	followUp := serverMessage(conversationID, domain.RoleUser, "You're welcome", base.Add(6*time.Minute))
	followUp.SenderUserID = userID
	feed.Emit(messageInsertEvent(followUp))

	msgs = threadStore.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "You're welcome", msgs[4].Body)

	snap, err = inboxStore.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "You're welcome", snap.Conversations[0].LastMessagePreview)
	assert.Equal(t, 0, snap.UnreadTotal)

	// The whole exchange ran off one list fetch.
	api.AssertExpectations(t)
}
