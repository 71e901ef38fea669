package auth

import (
	"sync"
	"time"
)

// ClaimCache holds role claims per identity for a bounded time. Each entry
// remembers the user row version it was read from; a newer stored version
// written by any process turns the entry into a miss.
type ClaimCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]claimEntry
}

type claimEntry struct {
	roles   RoleSet
	version time.Time
	expires time.Time
}

// NewClaimCache creates a cache whose entries live for ttl
func NewClaimCache(ttl time.Duration) *ClaimCache {
	return &ClaimCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]claimEntry),
	}
}

// Get returns the cached roles for uid if present, unexpired and not older
// than version. A zero version skips the version check.
func (c *ClaimCache) Get(uid string, version time.Time) (RoleSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[uid]
	if !ok || !c.now().Before(e.expires) || e.version.Before(version) {
		return 0, false
	}
	return e.roles, true
}

// Set stores roles for uid read at the given user row version
func (c *ClaimCache) Set(uid string, roles RoleSet, version time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uid] = claimEntry{roles: roles, version: version, expires: c.now().Add(c.ttl)}
}

// Invalidate drops the entry for uid
func (c *ClaimCache) Invalidate(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uid)
}

// Len returns the number of entries, fresh or not
func (c *ClaimCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
