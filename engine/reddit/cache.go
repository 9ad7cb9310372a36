package reddit

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/WessleyAI/reddit-search/engine/domain"
)

const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 60 * time.Second
)

type cacheItem struct {
	result    *SearchResult
	expiresAt time.Time
}

// resultCache holds recent search results keyed by normalized query.
// Cached results are shared and must be treated as read-only.
type resultCache struct {
	lru *lru.Cache[string, cacheItem]
	ttl time.Duration
	now func() time.Time
}

func newResultCache(size int, ttl time.Duration) (*resultCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	l, err := lru.New[string, cacheItem](size)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &resultCache{lru: l, ttl: ttl, now: time.Now}, nil
}

func (c *resultCache) get(key string) (*SearchResult, bool) {
	item, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(item.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return item.result, true
}

func (c *resultCache) set(key string, r *SearchResult) {
	c.lru.Add(key, cacheItem{result: r, expiresAt: c.now().Add(c.ttl)})
}

func (c *resultCache) len() int { return c.lru.Len() }

func cacheKey(q domain.SearchQuery) string {
	return fmt.Sprintf("%s\x00%d\x00%s\x00%s\x00%s", q.Keyword, q.Limit, q.After, q.Sort, q.Time)
}
