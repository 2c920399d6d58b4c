// Package cache provides the bounded, freshness-aware cache used to avoid
// redundant server round-trips: parsed objects are kept keyed by logical id
// and re-verified against the source's last-modification time before reuse.
package cache

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shouqitao/scada-sub001/metrics"
)

// Entry is one cached value with its freshness bookkeeping. The embedded
// mutex is NOT the cache lock: callers take it around "fetch if missing or
// stale" so that each key is materialized by at most one goroutine while
// unrelated keys proceed in parallel.
type Entry[K comparable, V any] struct {
	sync.Mutex

	Key        K
	Value      V
	HasValue   bool
	Freshness  time.Time // source last-modified time of Value
	StoredAt   time.Time // when Value was written to the cache
	AccessedAt time.Time
}

// Outdated reports whether the cached value no longer matches the source's
// freshness timestamp and must be refetched.
func (e *Entry[K, V]) Outdated(freshness time.Time) bool {
	return !e.HasValue || !e.Freshness.Equal(freshness)
}

// WithinValidity reports whether the value was refreshed recently enough to
// be reused without even probing the source.
func (e *Entry[K, V]) WithinValidity(now time.Time, window time.Duration) bool {
	return e.HasValue && now.Sub(e.StoredAt) <= window
}

// Cache is a capacity- and age-bounded key/value cache. One coarse mutex
// guards the whole map; per-entry serialization is the entry's own lock.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int
	retention time.Duration
	entries   map[K]*Entry[K, V]
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a cache holding at most capacity entries, dropping entries
// untouched for longer than retention. Metrics may be nil.
func New[K comparable, V any](capacity int, retention time.Duration, logger *zap.Logger, m *metrics.Metrics) *Cache[K, V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[K, V]{
		capacity:  capacity,
		retention: retention,
		entries:   make(map[K]*Entry[K, V]),
		logger:    logger,
		metrics:   m,
	}
}

// GetOrCreate returns the entry for key, creating an empty one on a miss.
// The entry's access time is bumped either way.
func (c *Cache[K, V]) GetOrCreate(key K, now time.Time) *Entry[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.AccessedAt = now
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.Inc()
		}
		return entry
	}
	entry := &Entry[K, V]{Key: key, AccessedAt: now}
	c.entries[key] = entry
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
		c.metrics.CacheEntriesTotal.Set(float64(len(c.entries)))
	}
	return entry
}

// Update stores a freshly materialized value into entry.
func (c *Cache[K, V]) Update(entry *Entry[K, V], value V, freshness, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.Value = value
	entry.HasValue = true
	entry.Freshness = freshness
	entry.StoredAt = now
	entry.AccessedAt = now
}

// RemoveStale evicts entries untouched for longer than the retention window
// and then, if the cache is still over capacity, the globally oldest entries
// by last access until it fits.
func (c *Cache[K, V]) RemoveStale(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, entry := range c.entries {
		if now.Sub(entry.AccessedAt) > c.retention {
			delete(c.entries, key)
			evicted++
		}
	}

	if len(c.entries) > c.capacity {
		rest := make([]*Entry[K, V], 0, len(c.entries))
		for _, entry := range c.entries {
			rest = append(rest, entry)
		}
		sort.Slice(rest, func(i, j int) bool {
			return rest[i].AccessedAt.Before(rest[j].AccessedAt)
		})
		for _, entry := range rest[:len(c.entries)-c.capacity] {
			delete(c.entries, entry.Key)
			evicted++
		}
	}

	if evicted > 0 {
		c.logger.Debug("evicted cache entries", zap.Int("count", evicted), zap.Int("left", len(c.entries)))
		if c.metrics != nil {
			c.metrics.CacheEvictionsTotal.Add(float64(evicted))
		}
	}
	if c.metrics != nil {
		c.metrics.CacheEntriesTotal.Set(float64(len(c.entries)))
	}
}

// Len returns the current number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
