package authz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/auditcore/approval-engine/pkg/cache"
	"github.com/auditcore/approval-engine/pkg/clock"
)

// DefaultCacheTTL is the default time-to-live for cached authorization results.
const DefaultCacheTTL = 10 * time.Second

// CachedAuthorizer wraps another Authorizer with a short-lived, bounded
// in-memory cache. Errors are never cached.
type CachedAuthorizer struct {
	inner Authorizer
	cache *cache.LRU[string, bool]
}

// NewCachedAuthorizer creates a CachedAuthorizer that wraps inner with the given TTL.
func NewCachedAuthorizer(inner Authorizer, ttl time.Duration) *CachedAuthorizer {
	return newCachedAuthorizer(inner, ttl, cache.DefaultMaxSize, nil)
}

func newCachedAuthorizer(inner Authorizer, ttl time.Duration, size int, clk clock.Clock) *CachedAuthorizer {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedAuthorizer{
		inner: inner,
		cache: cache.NewLRU[string, bool](size, ttl, clk),
	}
}

// Authorize checks the cache first and delegates to the inner Authorizer on miss.
func (c *CachedAuthorizer) Authorize(ctx context.Context, req AuthzRequest) (bool, error) {
	key := cacheKey(req)
	if allowed, ok := c.cache.Get(key); ok {
		return allowed, nil
	}

	allowed, err := c.inner.Authorize(ctx, req)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, allowed)
	return allowed, nil
}

func cacheKey(req AuthzRequest) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		req.User,
		strings.Join(req.Groups, ","),
		req.Resource,
		req.Verb,
		req.Project,
	)
}
