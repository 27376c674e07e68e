package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	apperrors "localspot-sync/pkg/errors"
	"localspot-sync/pkg/logger"
)

// Client implements API over the collaborator's JSON HTTP surface
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// NewClient creates an HTTP transport client
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// ListConversations implements API
func (c *Client) ListConversations(ctx context.Context, viewer domain.Viewer) (*Inbox, error) {
	q := url.Values{}
	q.Set("role", string(viewer.Role))
	if viewer.Role == domain.RoleBusiness && viewer.BusinessID != nil {
		q.Set("business_id", viewer.BusinessID.String())
	}

	var inbox Inbox
	if err := c.do(ctx, http.MethodGet, "/v1/conversations?"+q.Encode(), nil, &inbox); err != nil {
		return nil, err
	}
	return &inbox, nil
}

// FetchMessages implements API
func (c *Client) FetchMessages(ctx context.Context, conversationID uuid.UUID, cursor string, limit int) (*domain.MessagePage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var page domain.MessagePage
	path := fmt.Sprintf("/v1/conversations/%s/messages?%s", conversationID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendMessage implements API
func (c *Client) SendMessage(ctx context.Context, conversationID uuid.UUID, sender domain.Viewer, body string) (*domain.Message, error) {
	req := struct {
		Text       string     `json:"text"`
		SenderType domain.Role `json:"sender_type"`
		BusinessID *uuid.UUID `json:"business_id,omitempty"`
	}{Text: body, SenderType: sender.Role, BusinessID: sender.BusinessID}

	var msg domain.Message
	path := fmt.Sprintf("/v1/conversations/%s/messages", conversationID)
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkConversationRead implements API
func (c *Client) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, viewer domain.Viewer) error {
	path := fmt.Sprintf("/v1/conversations/%s/read?role=%s", conversationID, viewer.Role)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// CreateConversation implements API
func (c *Client) CreateConversation(ctx context.Context, businessID uuid.UUID, targetUserID *uuid.UUID) (uuid.UUID, error) {
	req := struct {
		BusinessID   uuid.UUID  `json:"business_id"`
		TargetUserID *uuid.UUID `json:"target_user_id,omitempty"`
	}{BusinessID: businessID, TargetUserID: targetUserID}

	var resp struct {
		ConversationID uuid.UUID `json:"conversation_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/conversations", req, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.ConversationID, nil
}

// do issues one JSON request and classifies failures: auth errors stay
// distinct from transport errors so the UI can choose between re-auth and a
// retry affordance.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, "encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.TransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.UnauthorizedError("viewer identity rejected")
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrCodeForbidden, "viewer not allowed for this scope")
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.ConversationNotFoundError()
	case resp.StatusCode == http.StatusConflict:
		return apperrors.ProvisioningError()
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Warn("message api returned non-success",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return apperrors.TransportError(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.TransportError(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
