package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"marketscout/internal/models"
)

type entry struct {
	items     []models.Item
	fetchedAt time.Time
}

// Cache is a short-TTL result store keyed by normalized query signature. It
// absorbs bursts of identical queries: manual re-searches, page reloads and
// overlapping scheduled runs within the TTL window hit the cache instead of
// the upstream provider. Fetch failures are not cached; successful empty
// results are.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	now func() time.Time
}

// New creates an empty result cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached result for sig when it is younger than ttl,
// otherwise invokes fetch, stores a successful result, and returns it.
// Concurrent misses for the same signature share one upstream call. The
// second return value reports whether the result came from the cache.
func (c *Cache) GetOrFetch(sig string, ttl time.Duration, fetch func() ([]models.Item, error)) ([]models.Item, bool, error) {
	if items, ok := c.lookup(sig, ttl); ok {
		return items, true, nil
	}

	type result struct {
		items []models.Item
		hit   bool
	}

	v, err, _ := c.group.Do(sig, func() (interface{}, error) {
		// A queued caller may find the entry already refreshed by the
		// flight that just completed.
		if items, ok := c.lookup(sig, ttl); ok {
			return result{items: items, hit: true}, nil
		}

		items, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[sig] = entry{items: items, fetchedAt: c.now()}
		c.mu.Unlock()

		return result{items: items}, nil
	})
	if err != nil {
		return nil, false, err
	}

	r := v.(result)
	return r.items, r.hit, nil
}

// Evict removes entries older than ttl. Expiry is already enforced lazily on
// read; this just bounds memory on long-running processes.
func (c *Cache) Evict(ttl time.Duration) int {
	cutoff := c.now().Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for sig, e := range c.entries {
		if e.fetchedAt.Before(cutoff) {
			delete(c.entries, sig)
			removed++
		}
	}
	return removed
}

func (c *Cache) lookup(sig string, ttl time.Duration) ([]models.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[sig]
	if !ok || c.now().Sub(e.fetchedAt) >= ttl {
		return nil, false
	}
	return e.items, true
}
