package main

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/internal/stub"
	"localspot-sync/pkg/env"
	"localspot-sync/pkg/logger"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	server := stub.NewServer()
	if env.GetBool("STUB_SEED", true) {
		seedDemo(server)
	}

	addr := env.GetString("STUB_ADDR", ":8080")
	logger.Info("stub message api listening", zap.String("addr", addr))
	if err := server.Router().Run(addr); err != nil {
		logger.Error("stub server exited", zap.Error(err))
	}
}

// seedDemo installs one conversation with a short unread history, matching
// the scenario a fresh business inbox would show
func seedDemo(server *stub.Server) {
	businessID := uuid.New()
	userID := uuid.New()
	conversationID := uuid.New()
	base := time.Now().Add(-10 * time.Minute)

	history := make([]*domain.Message, 0, 3)
	for i, body := range []string{"Hey, are you open tomorrow?", "We'd be a party of four", "Hi"} {
		history = append(history, &domain.Message{
			MessageID:      uuid.New(),
			ConversationID: conversationID,
			Body:           body,
			SenderType:     domain.RoleUser,
			SenderUserID:   userID,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			Status:         domain.StatusDelivered,
		})
	}
	last := history[len(history)-1]

	server.Seed(&domain.Conversation{
		ConversationID:     conversationID,
		UserID:             userID,
		BusinessID:         &businessID,
		BusinessName:       "Arbor Coffee Roasters",
		UserName:           "Dana",
		LastMessageAt:      last.CreatedAt,
		LastMessagePreview: domain.PreviewOf(last.Body),
		BusinessUnread:     len(history),
		CreatedAt:          base,
	}, history)

	logger.Info("seeded demo conversation",
		zap.String("conversation_id", conversationID.String()),
		zap.String("business_id", businessID.String()),
	)
}
