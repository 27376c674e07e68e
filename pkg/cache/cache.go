package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"localspot-sync/internal/domain"
	"localspot-sync/pkg/logger"
	"localspot-sync/pkg/metrics"
)

// ViewCache is the process-wide keyed cache backing the inbox views.
// Multiple scope keys may reference overlapping underlying conversations;
// each write is scoped to one key and patches are idempotent per key, so no
// cross-key locking is needed (eventual consistency across keys is bounded
// by one network round trip).
type ViewCache struct {
	mu   sync.RWMutex
	data map[string]*entry
	ttl  time.Duration
}

// entry keeps the last known value even after it goes stale, so a failed
// revalidation can fall back to the last-known-good view.
type entry struct {
	value    any
	storedAt time.Time
	stale    bool
}

// DefaultTTL bounds how long a cached view counts as fresh
const DefaultTTL = 30 * time.Second

// NewViewCache creates a new view cache with the given freshness bound
func NewViewCache(ttl time.Duration) *ViewCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ViewCache{
		data: make(map[string]*entry),
		ttl:  ttl,
	}
}

// Get returns the value for key only while it is fresh: present, not
// invalidated and within the TTL.
func (vc *ViewCache) Get(key string) (any, bool) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	e, exists := vc.data[key]
	if !exists || e.stale || time.Since(e.storedAt) > vc.ttl {
		return nil, false
	}
	return e.value, true
}

// Peek returns the last known value for key even if stale
func (vc *ViewCache) Peek(key string) (any, bool) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	e, exists := vc.data[key]
	if !exists {
		return nil, false
	}
	return e.value, true
}

// Set stores a freshly revalidated value for key
func (vc *ViewCache) Set(key string, value any) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	vc.data[key] = &entry{value: value, storedAt: time.Now()}

	logger.Debug("cache entry set",
		zap.String("key", key),
		zap.Int("size", len(vc.data)),
	)
}

// Patch applies fn to the current value for key without touching its
// freshness clock (an optimistic, non-revalidating mutation). Returns false
// when key has no value or fn declines the patch.
func (vc *ViewCache) Patch(key string, fn func(value any) (any, bool)) bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	e, exists := vc.data[key]
	if !exists {
		return false
	}

	next, ok := fn(e.value)
	if !ok {
		return false
	}
	e.value = next
	metrics.CachePatchTotal.WithLabelValues(key).Inc()
	return true
}

// Invalidate marks key stale while keeping its last value for fallback
func (vc *ViewCache) Invalidate(key string) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if e, exists := vc.data[key]; exists {
		e.stale = true
		logger.Debug("cache entry invalidated", zap.String("key", key))
	}
}

// Drop removes key entirely
func (vc *ViewCache) Drop(key string) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	delete(vc.data, key)
}

// Size returns the current number of entries in the cache
func (vc *ViewCache) Size() int {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return len(vc.data)
}

// cleanupExpired drops entries that are both stale and past the TTL
func (vc *ViewCache) cleanupExpired() {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	dropped := 0
	for key, e := range vc.data {
		if e.stale && time.Since(e.storedAt) > vc.ttl {
			delete(vc.data, key)
			dropped++
		}
	}

	if dropped > 0 {
		logger.Debug("expired cache entries cleaned up",
			zap.Int("count", dropped),
			zap.Int("remaining", len(vc.data)),
		)
	}
}

// StartCleanup starts a goroutine that periodically drops expired entries.
// Returns a stop function that cancels the cleanup goroutine.
func (vc *ViewCache) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				vc.cleanupExpired()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

// InboxKey derives the cache key for a viewer scope. Business viewers get
// both a generic role key and, when scoped, a business-id key.
func InboxKey(role domain.Role, businessID *uuid.UUID) string {
	if role == domain.RoleBusiness && businessID != nil {
		return fmt.Sprintf("inbox:business:%s", businessID)
	}
	return fmt.Sprintf("inbox:%s", role)
}

// InboxKeysFor returns every key whose scope could contain a conversation
// belonging to the given business. Used for cross-view propagation: a patch
// must reach the user key, the generic business key and, when the business
// id is known, the id-scoped key.
func InboxKeysFor(businessID *uuid.UUID) []string {
	keys := []string{
		InboxKey(domain.RoleUser, nil),
		InboxKey(domain.RoleBusiness, nil),
	}
	if businessID != nil {
		keys = append(keys, InboxKey(domain.RoleBusiness, businessID))
	}
	return keys
}
