// Package snapcache memoizes match snapshots per request key with TTL
// expiry, explicit invalidation, and single-flight recompute: concurrent
// callers for the same key share one computation instead of each re-running
// the matcher.
package snapcache

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Jasonzhangf/webauto-sub011/api/schemas"
	"github.com/Jasonzhangf/webauto-sub011/internal/dom"
)

// ComputeFunc produces a fresh snapshot forest on a cache miss.
type ComputeFunc func(ctx context.Context) ([]schemas.MatchSnapshot, error)

// entry is immutable after insertion; expiry is time-based only.
type entry struct {
	snapshot  []schemas.MatchSnapshot
	createdAt time.Time
	ttl       time.Duration
}

// Cache is the snapshot cache. Mutual exclusion is scoped per key through
// the singleflight group; the entry map itself is guarded by one RWMutex.
type Cache struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	group singleflight.Group

	// now is stubbed by tests to control expiry.
	now func() time.Time
}

func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		logger:  logger.Named("snapcache"),
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Key derives the deterministic cache key for a match request.
func Key(site, url string, maxDepth, maxChildren int) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(site))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(url))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(maxDepth)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(maxChildren)))
	return strconv.FormatUint(h.Sum64(), 16)
}

// GetOrCompute returns the cached snapshot for key when a non-expired entry
// exists; otherwise it invokes compute exactly once per key, even under
// concurrent callers, and caches the result. When invalidate is set, any
// existing entry is discarded before lookup.
//
// An abandoning caller only stops waiting: the shared computation keeps
// running on a detached context because other callers may be waiting on it.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, invalidate bool, compute ComputeFunc) ([]schemas.MatchSnapshot, bool, error) {
	if invalidate {
		c.Invalidate(key)
	}

	if snap, ok := c.lookup(key); ok {
		return snap, true, nil
	}

	detached := dom.Detach(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		snaps, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.store(key, snaps, ttl)
		return snaps, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]schemas.MatchSnapshot), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate drops the entry for key. In-flight computations are left alone;
// their waiters still share the result, but the next call recomputes.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Len reports the number of live entries, expired ones included until they
// are lazily evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// lookup returns the entry for key when present and unexpired. Expired
// entries are evicted lazily here; no background sweeper exists.
func (c *Cache) lookup(key string) ([]schemas.MatchSnapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.createdAt) > e.ttl {
		c.mu.Lock()
		// Re-check under the write lock; a fresh entry may have replaced the
		// expired one.
		if cur, still := c.entries[key]; still && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.snapshot, true
}

func (c *Cache) store(key string, snaps []schemas.MatchSnapshot, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = &entry{
		snapshot:  snaps,
		createdAt: c.now(),
		ttl:       ttl,
	}
	c.mu.Unlock()
	c.logger.Debug("Cached snapshot.", zap.String("key", key), zap.Duration("ttl", ttl))
}
