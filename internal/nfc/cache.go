package nfc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// CachedDirectory keeps successful lookups for MaxAge so a tag left on the
// reader does not hit the directory every scan. Failures are never cached.
type CachedDirectory struct {
	inner  UserDirectory
	cache  sync.Map // map[TagID]cachedUser
	maxAge time.Duration
	now    func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

type cachedUser struct {
	User      UserRecord
	FetchedAt time.Time
}

// NewCachedDirectory wraps inner. maxAge <= 0 defaults to one minute.
func NewCachedDirectory(inner UserDirectory, maxAge time.Duration) *CachedDirectory {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &CachedDirectory{inner: inner, maxAge: maxAge, now: time.Now}
}

// Lookup implements UserDirectory.
func (c *CachedDirectory) Lookup(ctx context.Context, tag TagID) (UserRecord, error) {
	if cached, ok := c.cache.Load(tag); ok {
		entry := cached.(cachedUser)
		if c.now().Sub(entry.FetchedAt) < c.maxAge {
			c.hits.Add(1)
			return entry.User, nil
		}
		c.cache.Delete(tag)
	}
	c.misses.Add(1)

	user, err := c.inner.Lookup(ctx, tag)
	if err != nil {
		c.errors.Add(1)
		return UserRecord{}, err
	}

	c.cache.Store(tag, cachedUser{User: user, FetchedAt: c.now()})
	return user, nil
}

// Invalidate drops a cached tag, e.g. after it was re-registered.
func (c *CachedDirectory) Invalidate(tag TagID) {
	c.cache.Delete(tag)
}

// Stats returns cache statistics.
func (c *CachedDirectory) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	hitRate := float64(0)
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	var size int
	c.cache.Range(func(_, _ interface{}) bool {
		size++
		return true
	})

	return CacheStats{
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		Errors:    c.errors.Load(),
		CacheSize: size,
	}
}

// CacheStats holds cache metrics.
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate_pct"`
	Errors    uint64  `json:"errors"`
	CacheSize int     `json:"cache_size"`
}
