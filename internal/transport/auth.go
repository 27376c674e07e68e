package transport

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "localspot-sync/pkg/errors"
)

// TokenSource supplies the bearer token attached to every API request
type TokenSource interface {
	Token() (string, error)
}

// StaticTokenSource wraps a JWT issued by the auth collaborator. It parses
// the claims once (unverified; the server owns verification) so expiry can
// be surfaced as an authentication error before any network round trip.
type StaticTokenSource struct {
	mu        sync.Mutex
	raw       string
	expiresAt time.Time
}

// NewStaticTokenSource creates a token source for a fixed token string
func NewStaticTokenSource(raw string) *StaticTokenSource {
	ts := &StaticTokenSource{raw: raw}
	ts.parseExpiry()
	return ts
}

// SetToken swaps in a refreshed token after re-authentication
func (ts *StaticTokenSource) SetToken(raw string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.raw = raw
	ts.expiresAt = time.Time{}
	ts.parseExpiryLocked()
}

func (ts *StaticTokenSource) parseExpiry() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.parseExpiryLocked()
}

func (ts *StaticTokenSource) parseExpiryLocked() {
	if ts.raw == "" {
		return
	}
	// Claims only; signature verification is the server's job.
	token, _, err := jwt.NewParser().ParseUnverified(ts.raw, jwt.MapClaims{})
	if err != nil {
		return
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	ts.expiresAt = exp.Time
}

// Token returns the current token, or an authentication error when the
// viewer identity is missing or expired
func (ts *StaticTokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.raw == "" {
		return "", apperrors.UnauthorizedError("no viewer identity")
	}
	if !ts.expiresAt.IsZero() && time.Now().After(ts.expiresAt) {
		return "", apperrors.ExpiredTokenError()
	}
	return ts.raw, nil
}
