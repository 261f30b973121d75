package research

import (
	"context"
	"sync"
	"time"

	"github.com/BenDundee/ravana/internal/logging"
)

// CacheEntry holds a cached page.
type CacheEntry struct {
	Key       string
	Page      Page
	CreatedAt time.Time
	ExpiresAt time.Time
}

// PageCache is an in-memory TTL cache of fetched pages. The same URL is
// often returned for several related queries in one search.
type PageCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
	maxSize int
	ttl     time.Duration
	hits    int
	misses  int
}

// NewPageCache creates a new cache with the given size limit and TTL.
func NewPageCache(maxSize int, ttl time.Duration) *PageCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &PageCache{
		entries: make(map[string]*CacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a cached page by URL.
func (c *PageCache) Get(key string) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.ExpiresAt) {
		c.misses++
		return Page{}, false
	}
	c.hits++
	return entry.Page, true
}

// Set stores a page in the cache.
func (c *PageCache) Set(key string, page Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict if at capacity
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	c.entries[key] = &CacheEntry{
		Key:       key,
		Page:      page,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Clear removes all entries from the cache.
func (c *PageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CacheEntry)
}

// Size returns the number of entries in the cache.
func (c *PageCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *PageCache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// evictOldest removes the oldest entry (by creation time).
func (c *PageCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// CachingFetcher serves repeated URLs from a PageCache. Failures are not cached.
type CachingFetcher struct {
	Fetcher Fetcher
	Cache   *PageCache
}

// NewCachingFetcher wraps f with a cache of the given TTL.
func NewCachingFetcher(f Fetcher, ttl time.Duration) *CachingFetcher {
	return &CachingFetcher{Fetcher: f, Cache: NewPageCache(1000, ttl)}
}

// Fetch implements Fetcher.
func (c *CachingFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if page, ok := c.Cache.Get(url); ok {
		logging.ResearchDebug("Cache hit: %s", url)
		return page, nil
	}
	page, err := c.Fetcher.Fetch(ctx, url)
	if err != nil {
		return Page{}, err
	}
	c.Cache.Set(url, page)
	return page, nil
}
