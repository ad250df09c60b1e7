package pagecache

import (
	"context"
	"math"
	"runtime"
	"sort"
)

func (c *Memory) evictHeapInUse() {
	if c.config.HeapInUseSoftLimit == 0 {
		return
	}

	runtime.GC()

	m := runtime.MemStats{}
	runtime.ReadMemStats(&m)

	if m.HeapInuse < c.config.HeapInUseSoftLimit {
		return
	}

	type entry struct {
		key      string
		expireAt int64
	}

	c.RLock()
	keysCnt := len(c.data)
	c.RUnlock()

	entries := make([]entry, 0, keysCnt)

	// Collect all keys and expirations, entries without lifespan never expire.
	c.RLock()
	for k, e := range c.data {
		expireAt := int64(math.MaxInt64)
		if e.Lifespan != nil {
			expireAt = e.Lifespan.ExpireAt
		}

		entries = append(entries, entry{key: k, expireAt: expireAt})
	}
	c.RUnlock()

	// Sort entries to put soonest expiring in head.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expireAt < entries[j].expireAt
	})

	evictFraction := c.config.HeapInUseEvictFraction
	if evictFraction == 0 {
		evictFraction = 0.1
	}

	evictItems := int(float64(len(entries)) * evictFraction)

	if c.stat != nil {
		c.stat.Add(context.Background(), MetricEvict, float64(evictItems), "name", c.config.Name)
	}

	for i := 0; i < evictItems; i++ {
		c.Lock()
		delete(c.data, entries[i].key)
		c.Unlock()
	}
}
