package api

import (
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/nicktill/tinywatch/pkg/config"
	"github.com/nicktill/tinywatch/pkg/rollup"
)

// queryCache holds rollup query answers until the source rolls up again.
type queryCache struct {
	c *cache.Cache
}

func newQueryCache() *queryCache {
	return &queryCache{c: cache.New(config.QueryCacheTTL, config.QueryCacheCleanup)}
}

func cacheKey(source, query string) string {
	return source + "|" + query
}

func (q *queryCache) get(source, query string) (*rollup.ReadResult, bool) {
	v, ok := q.c.Get(cacheKey(source, query))
	if !ok {
		return nil, false
	}
	return v.(*rollup.ReadResult), true
}

func (q *queryCache) set(source, query string, res *rollup.ReadResult) {
	q.c.SetDefault(cacheKey(source, query), res)
}

// invalidate drops every cached answer of source.
func (q *queryCache) invalidate(source string) {
	prefix := source + "|"
	for key := range q.c.Items() {
		if strings.HasPrefix(key, prefix) {
			q.c.Delete(key)
		}
	}
}
