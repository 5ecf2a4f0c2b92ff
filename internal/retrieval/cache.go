// Package retrieval memoizes vector index queries per (file, question)
// pair behind a bounded LRU cache.
package retrieval

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bull/docqa-server/internal/vectorindex"
)

// DefaultCapacity bounds the number of memoized query results.
const DefaultCapacity = 100

// DefaultTopK is how many chunks one retrieval returns.
const DefaultTopK = 3

// Querier is the subset of the vector index used by retrieval.
type Querier interface {
	Query(ctx context.Context, key, queryText string, topK int) (vectorindex.Result, error)
}

type cacheKey struct {
	uid   string
	query string
}

// Cache is safe for concurrent use. Concurrent misses for the same key
// may recompute independently; results are idempotent for a fixed index
// state, so the last write winning is harmless.
type Cache struct {
	entries *lru.Cache[cacheKey, vectorindex.Result]
	querier Querier
	topK    int
}

// New builds a Cache over querier. capacity <= 0 selects
// DefaultCapacity; topK <= 0 selects DefaultTopK.
func New(querier Querier, capacity, topK int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	entries, err := lru.New[cacheKey, vectorindex.Result](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, querier: querier, topK: topK}, nil
}

// GetOrCompute returns the cached retrieval for (uid, query), computing
// and storing it on a miss. Query text is trimmed before keying so
// whitespace variants share an entry.
func (c *Cache) GetOrCompute(ctx context.Context, uid, query string) (vectorindex.Result, error) {
	key := cacheKey{uid: uid, query: strings.TrimSpace(query)}
	if result, ok := c.entries.Get(key); ok {
		return result, nil
	}

	result, err := c.querier.Query(ctx, uid, key.query, c.topK)
	if err != nil {
		return vectorindex.Result{}, err
	}
	c.entries.Add(key, result)
	return result, nil
}

// Invalidate drops every cached entry for uid. Called when a file is
// deleted or reprocessed so stale chunks are never served afterwards.
func (c *Cache) Invalidate(uid string) {
	for _, key := range c.entries.Keys() {
		if key.uid == uid {
			c.entries.Remove(key)
		}
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
