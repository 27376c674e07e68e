// Package stub implements the collaborator message API contract in memory,
// together with the websocket change feed, so the sync core can be
// exercised end to end without the hosted store.
package stub

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"localspot-sync/internal/domain"
	"localspot-sync/pkg/cursor"
)

// Server holds the in-memory rows and the feed hub
type Server struct {
	hub *FeedHub

	mu            sync.Mutex
	conversations map[uuid.UUID]*domain.Conversation
	messages      map[uuid.UUID][]*domain.Message // ascending by created_at
}

// NewServer creates an empty stub server
func NewServer() *Server {
	return &Server{
		hub:           NewFeedHub(),
		conversations: make(map[uuid.UUID]*domain.Conversation),
		messages:      make(map[uuid.UUID][]*domain.Message),
	}
}

// Router builds the gin engine with the collaborator routes
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1", requireBearer)
	{
		v1.GET("/conversations", s.listConversations)
		v1.POST("/conversations", s.createConversation)
		v1.GET("/conversations/:id/messages", s.listMessages)
		v1.POST("/conversations/:id/messages", s.sendMessage)
		v1.POST("/conversations/:id/read", s.markRead)
	}
	router.GET("/v1/changes/ws", s.hub.ServeWS)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requireBearer rejects requests without a bearer token, so the client's
// auth error path can be exercised against the stub
func requireBearer(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	c.Next()
}

// Seed installs a conversation with history, for demos and tests
func (s *Server) Seed(conv *domain.Conversation, history []*domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ConversationID] = conv
	msgs := append([]*domain.Message(nil), history...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	s.messages[conv.ConversationID] = msgs
}

func (s *Server) listConversations(c *gin.Context) {
	role := domain.Role(c.Query("role"))
	businessID := c.Query("business_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Conversation, 0, len(s.conversations))
	unreadTotal := 0
	for _, conv := range s.conversations {
		if businessID != "" && (conv.BusinessID == nil || conv.BusinessID.String() != businessID) {
			continue
		}
		out = append(out, conv)
		unreadTotal += conv.UnreadFor(role)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})

	c.JSON(http.StatusOK, gin.H{
		"conversations": out,
		"unread_total":  unreadTotal,
	})
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		BusinessID   uuid.UUID  `json:"business_id" binding:"required"`
		TargetUserID *uuid.UUID `json:"target_user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := uuid.New()
	if req.TargetUserID != nil {
		userID = *req.TargetUserID
	}

	now := time.Now()
	conv := &domain.Conversation{
		ConversationID: uuid.New(),
		UserID:         userID,
		BusinessID:     &req.BusinessID,
		LastMessageAt:  now,
		CreatedAt:      now,
	}

	s.mu.Lock()
	s.conversations[conv.ConversationID] = conv
	s.mu.Unlock()

	s.publishRow(domain.ChangeInsert, domain.TableConversations, conv, nil)
	c.JSON(http.StatusCreated, gin.H{"conversation_id": conv.ConversationID})
}

func (s *Server) listMessages(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	limit := cursor.ClampLimit(atoiDefault(c.Query("limit"), cursor.DefaultLimit))

	var before time.Time
	if token := c.Query("cursor"); token != "" {
		cur, err := cursor.Decode(token)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		before = cur.Before
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, ok := s.messages[conversationID]
	if !ok {
		if _, exists := s.conversations[conversationID]; !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
	}

	// Walk backwards from the cursor, then return the window ascending.
	end := len(all)
	if !before.IsZero() {
		for end > 0 && !all[end-1].CreatedAt.Before(before) {
			end--
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	window := all[start:end]

	resp := domain.MessagePage{
		Messages: append([]*domain.Message(nil), window...),
		HasMore:  start > 0,
	}
	if start > 0 && len(window) > 0 {
		resp.NextCursor = cursor.Encode(cursor.Cursor{
			Before:    window[0].CreatedAt,
			MessageID: window[0].MessageID,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) sendMessage(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	var req struct {
		Text       string      `json:"text" binding:"required"`
		SenderType domain.Role `json:"sender_type" binding:"required,oneof=user business"`
		BusinessID *uuid.UUID  `json:"business_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	conv, exists := s.conversations[conversationID]
	if !exists {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if req.SenderType == domain.RoleBusiness && conv.BusinessID == nil {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "conversation still provisioning"})
		return
	}

	now := time.Now()
	msg := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		Body:           req.Text,
		SenderType:     req.SenderType,
		SenderUserID:   conv.UserID,
		CreatedAt:      now,
		Status:         domain.StatusSent,
	}
	if req.SenderType == domain.RoleBusiness {
		msg.SenderBusinessID = conv.BusinessID
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)

	conv.LastMessageAt = now
	conv.LastMessagePreview = domain.PreviewOf(req.Text)
	// A send increments the counterpart's counter only.
	recipient := req.SenderType.Counterpart()
	conv.SetUnreadFor(recipient, conv.UnreadFor(recipient)+1)
	convCopy := *conv
	s.mu.Unlock()

	s.publishRow(domain.ChangeInsert, domain.TableMessages, msg, nil)
	s.publishRow(domain.ChangeUpdate, domain.TableConversations, &convCopy, nil)

	c.JSON(http.StatusCreated, msg)
}

func (s *Server) markRead(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	role := domain.Role(c.Query("role"))

	s.mu.Lock()
	conv, exists := s.conversations[conversationID]
	if !exists {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	// Idempotent: re-marking an already-read conversation changes nothing.
	changed := conv.UnreadFor(role) != 0
	conv.SetUnreadFor(role, 0)
	var marked []domain.Message
	if changed {
		now := time.Now()
		for _, m := range s.messages[conversationID] {
			if m.SenderType != role && m.Status != domain.StatusRead {
				m.Status = domain.StatusRead
				m.ReadAt = &now
				marked = append(marked, *m)
			}
		}
	}
	convCopy := *conv
	s.mu.Unlock()

	for i := range marked {
		s.publishRow(domain.ChangeUpdate, domain.TableMessages, &marked[i], nil)
	}
	if changed {
		s.publishRow(domain.ChangeUpdate, domain.TableConversations, &convCopy, nil)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) publishRow(kind domain.ChangeKind, table string, newRow, oldRow any) {
	ev := domain.ChangeEvent{Kind: kind, Table: table}
	if newRow != nil {
		ev.New, _ = json.Marshal(newRow)
	}
	if oldRow != nil {
		ev.Old, _ = json.Marshal(oldRow)
	}
	s.hub.Publish(ev)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
