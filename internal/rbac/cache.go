package rbac

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheTTL bounds how long a resolved permission set is reused.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheSize bounds the number of users held by MemoryCache.
	DefaultCacheSize = 10000
)

// Cache memoizes resolved permission sets per user.
// Get reports a miss for entries older than the TTL; expiry is measured from Put.
type Cache interface {
	Get(ctx context.Context, userID int64) (PermissionSet, bool)
	Put(ctx context.Context, userID int64, set PermissionSet) error
	Invalidate(ctx context.Context, userID int64) error
	Clear(ctx context.Context) error
}

type cacheEntry struct {
	set      PermissionSet
	storedAt time.Time
}

// MemoryCache is a process-local, size-bounded Cache.
type MemoryCache struct {
	entries *lru.Cache[int64, cacheEntry]
	ttl     time.Duration
	clock   func() time.Time
}

// NewMemoryCache builds a MemoryCache. Non-positive arguments fall back to defaults.
func NewMemoryCache(ttl time.Duration, size int) (*MemoryCache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[int64, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries, ttl: ttl, clock: time.Now}, nil
}

// Get returns the cached set when it is younger than the TTL. Stale entries stay until overwritten.
func (c *MemoryCache) Get(_ context.Context, userID int64) (PermissionSet, bool) {
	entry, ok := c.entries.Get(userID)
	if !ok {
		return PermissionSet{}, false
	}
	if c.clock().Sub(entry.storedAt) >= c.ttl {
		return PermissionSet{}, false
	}
	return entry.set, true
}

// Put stores the set stamped with the current time.
func (c *MemoryCache) Put(_ context.Context, userID int64, set PermissionSet) error {
	c.entries.Add(userID, cacheEntry{set: set, storedAt: c.clock()})
	return nil
}

// Invalidate drops the user's entry.
func (c *MemoryCache) Invalidate(_ context.Context, userID int64) error {
	c.entries.Remove(userID)
	return nil
}

// Clear drops every entry.
func (c *MemoryCache) Clear(context.Context) error {
	c.entries.Purge()
	return nil
}

// Len reports the number of stored entries, stale ones included.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

var _ Cache = (*MemoryCache)(nil)
