package fhirpath

import (
	"github.com/erp-fd/erp-processing-context/cache"
)

// ExpressionCache is a request-scoped cache of parsed expressions keyed
// by source text. Compiled constraint expressions live in the profile
// repository and never pass through here; the repository's slice
// discriminators call Parse directly and do not use it either.
type ExpressionCache struct {
	lru *cache.Cache[string, *Expression]
}

// NewExpressionCache creates a cache with the given capacity.
func NewExpressionCache(capacity int) *ExpressionCache {
	return &ExpressionCache{lru: cache.New[string, *Expression](capacity)}
}

// Get parses the expression or returns the cached compilation.
func (c *ExpressionCache) Get(src string) (*Expression, error) {
	if expr, ok := c.lru.Get(src); ok {
		return expr, nil
	}
	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c.lru.Set(src, expr)
	return expr, nil
}

// Stats exposes the underlying cache counters.
func (c *ExpressionCache) Stats() cache.Stats { return c.lru.Stats() }
