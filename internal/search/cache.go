package search

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache memoizes successful searches for a TTL. Identical queries issued by
// different research agents or sessions hit the upstream API once.
type Cache struct {
	next Searcher
	lru  *expirable.LRU[string, []Result]
}

func NewCache(next Searcher, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{next: next, lru: expirable.NewLRU[string, []Result](size, nil, ttl)}
}

func cacheKey(query string, max int) string {
	return fmt.Sprintf("%d|%s", ClampResults(max), strings.ToLower(strings.Join(strings.Fields(query), " ")))
}

// Lookup answers from the cache only.
func (c *Cache) Lookup(query string, max int) ([]Result, bool) {
	res, ok := c.lru.Get(cacheKey(query, max))
	if !ok {
		return nil, false
	}
	return slices.Clone(res), true
}

func (c *Cache) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if res, ok := c.Lookup(query, max); ok {
		return res, nil
	}
	res, err := c.next.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	c.lru.Add(cacheKey(query, max), slices.Clone(res))
	return res, nil
}
