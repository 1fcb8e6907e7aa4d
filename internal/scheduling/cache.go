package scheduling

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cache is the advisory read-through cache in front of event reads. It is
// never the source of truth for a write decision: implementations swallow
// their own failures and a miss always falls back to the authoritative
// store. Invalidation is namespace-coarse per user.
type Cache interface {
	Get(key string) (string, bool)
	Put(key string, value string, ttl time.Duration)
	InvalidateUser(userID uint)
}

// eventCacheKey keys a single-event read by event and viewer, because the
// response shape depends on who is looking.
func eventCacheKey(eventID, viewerID uint) string {
	return fmt.Sprintf("event:%d:user:%d", eventID, viewerID)
}

// listCacheKey canonicalizes a list query's filters into the cache key.
func listCacheKey(viewerID uint, filter ListFilter) string {
	recurring := "nil"
	if filter.Recurring != nil {
		recurring = fmt.Sprintf("%t", *filter.Recurring)
	}
	startDate := ""
	if filter.StartDate != nil {
		startDate = filter.StartDate.UTC().Format(time.RFC3339Nano)
	}
	endDate := ""
	if filter.EndDate != nil {
		endDate = filter.EndDate.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("events:user:%d:offset:%d:limit:%d:recurring:%s:search:%s:start:%s:end:%s",
		viewerID, filter.Offset, filter.Limit, recurring, filter.Search, startDate, endDate)
}

// userNamespacePatterns returns the redis MATCH patterns covering every key
// in a user's namespace: single-event keys and list keys.
func userNamespacePatterns(userID uint) []string {
	return []string{
		fmt.Sprintf("event:*:user:%d", userID),
		fmt.Sprintf("events:user:%d:*", userID),
	}
}

func keyInUserNamespace(key string, userID uint) bool {
	if strings.HasPrefix(key, fmt.Sprintf("events:user:%d:", userID)) {
		return true
	}
	return strings.HasPrefix(key, "event:") && strings.HasSuffix(key, fmt.Sprintf(":user:%d", userID))
}

type memoryCacheEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is a process-local TTL cache used when no redis address is
// configured, and by tests.
type MemoryCache struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]memoryCacheEntry
}

// NewMemoryCache constructs an in-memory cache. A nil clock defaults to
// time.Now.
func NewMemoryCache(clock func() time.Time) *MemoryCache {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCache{
		clock:   clock,
		entries: make(map[string]memoryCacheEntry),
	}
}

// Get returns the cached value when present and unexpired.
func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.clock().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

// Put stores the value under key for ttl.
func (c *MemoryCache) Put(key string, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{value: value, expiresAt: c.clock().Add(ttl)}
}

// InvalidateUser drops every entry in the user's namespace. Invalidating an
// empty namespace is a no-op.
func (c *MemoryCache) InvalidateUser(userID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if keyInUserNamespace(key, userID) {
			delete(c.entries, key)
		}
	}
}

// Len reports the number of live entries, expired ones included until read.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
