package pathres

import (
	"strings"
	"sync"
	"time"
)

// pathCache caches resolved node paths with TTL-based expiration and
// prefix invalidation so a subtree move can evict every stale descendant.
//
// Thread-safe: uses RWMutex for concurrent access.
type pathCache struct {
	mu      sync.RWMutex
	entries map[string]pathEntry
	ttl     time.Duration
	maxSize int
}

type pathEntry struct {
	path    string
	expires time.Time
}

func newPathCache(ttl time.Duration, maxSize int) *pathCache {
	return &pathCache{
		entries: make(map[string]pathEntry, 256),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func (c *pathCache) get(nodeID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[nodeID]
	if !ok {
		return "", false
	}
	if c.ttl > 0 && time.Now().After(e.expires) {
		return "", false
	}
	return e.path, true
}

func (c *pathCache) set(nodeID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[nodeID]; !exists {
			return
		}
	}
	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}
	c.entries[nodeID] = pathEntry{path: path, expires: expires}
}

func (c *pathCache) invalidateNode(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, nodeID)
}

// invalidatePrefix evicts every cached path at or under prefix.
func (c *pathCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	withSlash := prefix + "/"
	for id, e := range c.entries {
		if e.path == prefix || strings.HasPrefix(e.path, withSlash) {
			delete(c.entries, id)
		}
	}
}
