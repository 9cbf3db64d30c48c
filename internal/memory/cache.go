package memory

import (
	"sync"
	"time"
)

type cacheKey struct {
	conversationID string
	kind           Kind
	key            string
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// Cache is a read-through cache of replayed state keyed by
// (conversation, kind, key). It is bounded: once full it is cleared wholesale.
// A nil *Cache disables caching.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
	limit   int
	now     func() time.Time
}

// NewCache builds a cache whose entries live for ttl, holding at most limit entries.
func NewCache(ttl time.Duration, limit int) *Cache {
	if limit <= 0 {
		limit = 1000
	}
	return &Cache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		limit:   limit,
		now:     time.Now,
	}
}

func (c *Cache) get(k cacheKey) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		delete(c.entries, k)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) put(k cacheKey, v any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.limit {
		clear(c.entries)
	}
	c.entries[k] = cacheEntry{value: v, expires: c.now().Add(c.ttl)}
}

func (c *Cache) forget(k cacheKey) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()
}

// Len reports how many entries are currently held.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
