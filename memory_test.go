package pagecache_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/pagecache"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	st := stats.TrackerMock{}
	m := pagecache.NewMemory(pagecache.MemoryConfig{
		Name:                     "test",
		Stats:                    &st,
		Logger:                   ctxd.NoOpLogger{},
		DeleteExpiredAfter:       time.Millisecond,
		DeleteExpiredJobInterval: 5 * time.Millisecond,
	})
	defer m.Close()

	assert.Equal(t, "test", m.Name())

	e, err := m.Get(ctx, "/a", pagecache.GetMeta{})
	assert.NoError(t, err)
	assert.Nil(t, e)

	entry := pagecache.CacheEntry{
		LastModified: time.Now().UnixMilli(),
		Tags:         []string{"a"},
		Value:        pagecache.PageValue{HTML: "<p>a</p>"},
	}

	require.NoError(t, m.Set(ctx, "/a", entry))

	e, err = m.Get(ctx, "/a", pagecache.GetMeta{})
	assert.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, entry, *e)
	assert.Equal(t, 1, m.Len())

	// Expired entry is removed by cleanup job.
	expired := entry
	expired.Lifespan = &pagecache.Lifespan{ExpireAt: time.Now().Add(-time.Minute).Unix()}

	require.NoError(t, m.Set(ctx, "/expired", expired))
	assert.Eventually(t, func() bool {
		return m.Len() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Delete(ctx, "/a"))

	e, err = m.Get(ctx, "/a", pagecache.GetMeta{})
	assert.NoError(t, err)
	assert.Nil(t, e)

	assert.Equal(t, 2, st.Int(pagecache.MetricWrite))
	assert.Equal(t, 1, st.Int(pagecache.MetricHit))
}

func TestMemory_RevalidateTag(t *testing.T) {
	ctx := context.Background()
	m := pagecache.NewMemory()
	defer m.Close()

	before := time.Now().Add(-time.Second).UnixMilli()

	require.NoError(t, m.Set(ctx, "/a", pagecache.CacheEntry{LastModified: before, Tags: []string{"a", "common"}}))
	require.NoError(t, m.Set(ctx, "/b", pagecache.CacheEntry{LastModified: before, Tags: []string{"b"}}))
	require.NoError(t, m.Set(ctx, "/c", pagecache.CacheEntry{LastModified: before, Tags: []string{"c"}}))

	require.NoError(t, m.RevalidateTag(ctx, "common"))
	assert.Equal(t, 2, m.Len())

	e, err := m.Get(ctx, "/a", pagecache.GetMeta{})
	assert.NoError(t, err)
	assert.Nil(t, e)

	// Implicit tag invalidates entries written before revalidation.
	require.NoError(t, m.RevalidateTag(ctx, "/layout"))

	e, err = m.Get(ctx, "/b", pagecache.GetMeta{ImplicitTags: []string{"/layout"}})
	assert.NoError(t, err)
	assert.Nil(t, e)

	e, err = m.Get(ctx, "/c", pagecache.GetMeta{ImplicitTags: []string{"/other"}})
	assert.NoError(t, err)
	assert.NotNil(t, e)

	// Entries written after revalidation are served.
	after := time.Now().Add(time.Second).UnixMilli()
	require.NoError(t, m.Set(ctx, "/b", pagecache.CacheEntry{LastModified: after, Tags: []string{"b"}}))

	e, err = m.Get(ctx, "/b", pagecache.GetMeta{ImplicitTags: []string{"/layout"}})
	assert.NoError(t, err)
	assert.NotNil(t, e)
}

func TestMemory_Close(t *testing.T) {
	ctx := context.Background()
	m := pagecache.NewMemory()

	require.NoError(t, m.Set(ctx, "/a", pagecache.CacheEntry{}))
	m.Close()

	assert.Eventually(t, func() bool {
		_, err := m.Get(ctx, "/a", pagecache.GetMeta{})

		return err != nil
	}, time.Second, time.Millisecond)

	assert.Error(t, m.Set(ctx, "/a", pagecache.CacheEntry{}))
	assert.Error(t, m.Delete(ctx, "/a"))

	done := make(chan struct{})

	go func() {
		m.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail(t, "repeated close is blocked")
	}
}

func TestMemory_Get_revalidatedOverwrite(t *testing.T) {
	ctx := context.Background()
	m := pagecache.NewMemory()
	defer m.Close()

	before := time.Now().Add(-time.Second).UnixMilli()
	after := time.Now().Add(time.Second).UnixMilli()
	meta := pagecache.GetMeta{ImplicitTags: []string{"/layout"}}

	require.NoError(t, m.RevalidateTag(ctx, "/layout"))

	for i := 0; i < 200; i++ {
		require.NoError(t, m.Set(ctx, "/a", pagecache.CacheEntry{LastModified: before}))

		wg := sync.WaitGroup{}
		wg.Add(2)

		go func() {
			defer wg.Done()

			_, err := m.Get(ctx, "/a", meta)
			assert.NoError(t, err)
		}()

		go func() {
			defer wg.Done()

			assert.NoError(t, m.Set(ctx, "/a", pagecache.CacheEntry{LastModified: after}))
		}()

		wg.Wait()

		// Fresh write survives removal of the outdated one.
		e, err := m.Get(ctx, "/a", meta)
		require.NoError(t, err)
		require.NotNil(t, e, i)
		assert.Equal(t, after, e.LastModified)
	}
}

func TestMemory_Get_concurrency(t *testing.T) {
	st := &stats.TrackerMock{}
	m := pagecache.NewMemory(pagecache.MemoryConfig{
		Stats: st,
	})
	defer m.Close()

	ctx := context.Background()

	pipeline := make(chan struct{}, 500)
	n := 1000

	for i := 0; i < n; i++ {
		pipeline <- struct{}{}

		k := "/oneone" + strconv.Itoa(i)

		go func() {
			defer func() {
				<-pipeline
			}()

			err := m.Set(ctx, k, pagecache.CacheEntry{Tags: []string{k}})
			assert.NoError(t, err)

			e, err := m.Get(ctx, k, pagecache.GetMeta{})
			assert.NoError(t, err)
			assert.NotNil(t, e)
		}()
	}

	// Waiting for goroutines to finish.
	for i := 0; i < cap(pipeline); i++ {
		pipeline <- struct{}{}
	}

	assert.Equal(t, n, st.Int(pagecache.MetricWrite), "total writes")
	assert.Equal(t, n, st.Int(pagecache.MetricHit))
}
