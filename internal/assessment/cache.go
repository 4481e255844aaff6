package assessment

import (
	"fmt"
	"sync"
	"time"

	"github.com/flasharb/risk-engine/pkg/types"
)

// Cache holds recent assessments keyed by opportunity and size so repeated
// evaluations of the same opportunity inside the TTL reuse the combined
// result instead of re-running every component.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*cacheEntry
}

type cacheEntry struct {
	assessment *Assessment
	expiresAt  time.Time
}

// NewCache creates an assessment cache.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
	}
}

// Key derives the cache key for an opportunity at a size. Sizes are bucketed
// to the nearest hundred dollars so near-identical requests share an entry.
func Key(opp *types.Opportunity, amountUSD float64) string {
	bucket := int64(amountUSD / 100)
	return fmt.Sprintf("%s|%s|%s->%s|%d", opp.ID, opp.Pair(), opp.SourceVenue, opp.TargetVenue, bucket)
}

// Get returns a live cached assessment, if any.
func (c *Cache) Get(key string) (*Assessment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.assessment, true
}

// Put stores an assessment, evicting under size pressure.
func (c *Cache) Put(key string, a *Assessment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = &cacheEntry{assessment: a, expiresAt: time.Now().Add(c.ttl)}
}

// Sweep drops expired entries. Called periodically by the engine.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Len reports the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked removes expired entries first, then the soonest-to-expire
// entries until a quarter of the capacity is free.
func (c *Cache) evictLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	target := c.maxEntries * 3 / 4
	for len(c.entries) > target {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.expiresAt.Before(oldest) {
				oldestKey = key
				oldest = entry.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
}
