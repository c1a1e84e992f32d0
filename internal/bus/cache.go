package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// responseCache memoizes successful query responses for a short window so
// repeated identical queries within a turn do not re-run the target worker.
// Expired entries are pruned lazily on access.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   any
	expires time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// cacheKey identifies a query by route and payload content. Payloads that
// cannot marshal are never cached.
func cacheKey(msg drawingboard.Message) (string, bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s|%s|%s", msg.FromWorker, msg.ToWorker, raw), true
}

func (c *responseCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *responseCache) put(key string, value any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: time.Now().Add(c.ttl)}
}

func (c *responseCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
	return len(c.entries)
}

func (c *responseCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
