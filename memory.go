package pagecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// errMemoryCacheIsClosed indicates cache was closed and deactivated.
var errMemoryCacheIsClosed = errors.New("cache is closed")

// MemoryConfig controls in-memory handler instance.
type MemoryConfig struct {
	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker

	// Name is handler name, used in stats and logging, default "memory".
	Name string

	// DeleteExpiredAfter is delay after lifespan expiration before entry is deleted from cache, default 24h.
	DeleteExpiredAfter time.Duration

	// DeleteExpiredJobInterval is delay between two consecutive cleanups, default 1h.
	DeleteExpiredJobInterval time.Duration

	// ItemsCountReportInterval is items count metric report interval, default 1m.
	ItemsCountReportInterval time.Duration

	// HeapInUseSoftLimit sets heap in use threshold when eviction of soonest expiring items will be performed.
	//
	// Eviction is a part of delete expired job, eviction runs at most once per delete expired job and
	// removes soonest expiring entries up to HeapInUseEvictFraction.
	HeapInUseSoftLimit uint64

	// HeapInUseEvictFraction is a fraction of total count of items to be evicted (0, 1], default 0.1 (10% of items).
	HeapInUseEvictFraction float64
}

var (
	_ Handler = &Memory{}
	_ Deleter = &Memory{}
)

// Memory is an in-memory handler.
type Memory struct {
	sync.RWMutex
	data      map[string]CacheEntry
	closed    chan struct{}
	closeOnce sync.Once

	revalidatedTags *RevalidatedTags

	config MemoryConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewMemory creates an instance of in-memory handler with optional configuration.
func NewMemory(cfg ...MemoryConfig) *Memory {
	config := MemoryConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.Name == "" {
		config.Name = "memory"
	}

	if config.DeleteExpiredAfter == 0 {
		config.DeleteExpiredAfter = 24 * time.Hour
	}

	if config.DeleteExpiredJobInterval == 0 {
		config.DeleteExpiredJobInterval = time.Hour
	}

	if config.ItemsCountReportInterval == 0 {
		config.ItemsCountReportInterval = time.Minute
	}

	c := &Memory{
		data:            map[string]CacheEntry{},
		revalidatedTags: NewRevalidatedTags(),
		config:          config,
		stat:            config.Stats,
		log:             config.Logger,
		closed:          make(chan struct{}, 1),
	}

	if c.stat != nil {
		go c.reportItemsCount()
	}

	go c.cleaner()

	return c
}

// Name returns configured name.
func (c *Memory) Name() string {
	return c.config.Name
}

// Get returns entry or nil if entry is missing or any of its tags was revalidated after write.
func (c *Memory) Get(ctx context.Context, k string, meta GetMeta) (*CacheEntry, error) {
	closed := false
	c.RLock()
	if c.data == nil {
		closed = true
	}

	cacheEntry, ok := c.data[k]
	c.RUnlock()

	if closed {
		return nil, errMemoryCacheIsClosed
	}

	if ok && c.revalidatedTags.Outdated(cacheEntry, meta.ImplicitTags) {
		if c.log != nil {
			c.log.Debug(ctx, "cache key revalidated",
				"name", c.config.Name,
				"key", k)
		}

		c.Lock()
		// Entry could be replaced by a fresh write since the check.
		if cur, found := c.data[k]; found && cur.LastModified == cacheEntry.LastModified {
			delete(c.data, k)
		}
		c.Unlock()

		ok = false
	}

	if !ok {
		if c.log != nil {
			c.log.Debug(ctx, "cache miss",
				"name", c.config.Name,
				"key", k)
		}

		if c.stat != nil {
			c.stat.Add(ctx, MetricMiss, 1, "name", c.config.Name)
		}

		return nil, nil
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricHit, 1, "name", c.config.Name)
	}

	if c.log != nil {
		c.log.Debug(ctx, "cache hit",
			"name", c.config.Name,
			"key", k)
	}

	return &cacheEntry, nil
}

// Set stores entry.
func (c *Memory) Set(ctx context.Context, k string, e CacheEntry) error {
	c.Lock()
	defer c.Unlock()

	if c.data == nil {
		if c.log != nil {
			c.log.Debug(ctx, "writing to a closed cache", "name", c.config.Name, "key", k)
		}

		return errMemoryCacheIsClosed
	}

	c.data[k] = e

	if c.log != nil {
		c.log.Debug(ctx, "wrote to cache", "name", c.config.Name, "key", k, "tags", e.Tags)
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricWrite, 1, "name", c.config.Name)
	}

	return nil
}

// RevalidateTag deletes entries with the tag and invalidates older entries having it as implicit tag.
func (c *Memory) RevalidateTag(ctx context.Context, tag string) error {
	c.revalidatedTags.Mark(tag, time.Now())

	keys := make([]string, 0)

	c.Lock()
	for k, e := range c.data {
		if HasTag(e.Tags, tag) {
			keys = append(keys, k)

			delete(c.data, k)
		}
	}
	c.Unlock()

	if c.log != nil {
		c.log.Debug(ctx, "revalidated tag", "name", c.config.Name, "tag", tag, "keys", keys)
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricRevalidated, 1, "name", c.config.Name)
	}

	return nil
}

// Delete removes entry.
func (c *Memory) Delete(ctx context.Context, k string) error {
	c.Lock()
	defer c.Unlock()

	if c.data == nil {
		return errMemoryCacheIsClosed
	}

	delete(c.data, k)

	if c.log != nil {
		c.log.Debug(ctx, "deleted cache entry", "name", c.config.Name, "key", k)
	}

	return nil
}

// RemoveAll deletes all entries.
func (c *Memory) RemoveAll() {
	c.Lock()
	c.data = make(map[string]CacheEntry)
	c.Unlock()
}

// Close disables cache instance, subsequent calls have no effect.
func (c *Memory) Close() {
	c.closeOnce.Do(func() {
		c.closed <- struct{}{}
	})
}

func (c *Memory) cleaner() {
	for {
		select {
		case <-time.After(c.config.DeleteExpiredJobInterval):
			c.clearExpired()
		case <-c.closed:
			c.Lock()
			c.data = nil
			c.Unlock()

			return
		}
	}
}

func (c *Memory) clearExpired() {
	expirationBoundary := time.Now().Add(-c.config.DeleteExpiredAfter).Unix()
	keys := make([]string, 0, 100)

	c.RLock()
	for k, e := range c.data {
		if e.Lifespan.IsExpired(expirationBoundary) {
			keys = append(keys, k)
		}
	}
	c.RUnlock()

	if c.log != nil {
		c.log.Debug(context.Background(), "clearing expired cache items",
			"name", c.config.Name,
			"items", keys,
		)
	}

	c.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.Unlock()

	c.evictHeapInUse()
}

func (c *Memory) reportItemsCount() {
	for {
		<-time.After(c.config.ItemsCountReportInterval)

		c.RLock()
		closed := c.data == nil
		count := len(c.data)
		c.RUnlock()

		if closed {
			return
		}

		if c.log != nil {
			c.log.Debug(context.Background(), "cache items count",
				"name", c.config.Name,
				"count", count,
			)
		}

		c.stat.Set(context.Background(), MetricItems, float64(count), "name", c.config.Name)
	}
}

// Len returns number of elements in cache.
func (c *Memory) Len() int {
	c.RLock()
	cnt := len(c.data)
	c.RUnlock()

	return cnt
}

// Walk walks cached entries.
//
// Entries are collected before walking, so walkFn may use the cache.
func (c *Memory) Walk(walkFn func(key string, e CacheEntry) error) (int, error) {
	c.RLock()
	keys := make([]string, 0, len(c.data))
	entries := make([]CacheEntry, 0, len(c.data))

	for k, v := range c.data {
		keys = append(keys, k)
		entries = append(entries, v)
	}
	c.RUnlock()

	for i, k := range keys {
		if err := walkFn(k, entries[i]); err != nil {
			return i, err
		}
	}

	return len(keys), nil
}
