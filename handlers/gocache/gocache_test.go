package gocache_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/pagecache"
	"github.com/vearutop/pagecache/handlers/gocache"
)

func TestHandler(t *testing.T) {
	ctx := context.Background()
	h := gocache.New(gocache.Config{})

	assert.Equal(t, "gocache", h.Name())

	e, err := h.Get(ctx, "/a", pagecache.GetMeta{})
	require.NoError(t, err)
	assert.Nil(t, e)

	entry := pagecache.CacheEntry{
		LastModified: time.Now().UnixMilli(),
		Lifespan:     &pagecache.Lifespan{ExpireAt: time.Now().Add(time.Hour).Unix()},
		Tags:         []string{"a"},
		Value:        pagecache.EncodedRouteValue{Body: "aGk="},
	}

	require.NoError(t, h.Set(ctx, "/a", entry))
	require.NoError(t, h.Set(ctx, "/static", pagecache.CacheEntry{}))
	assert.Equal(t, 2, h.Len())

	e, err = h.Get(ctx, "/a", pagecache.GetMeta{})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, entry, *e)

	// Already expired entry replaces and removes previous one.
	expired := entry
	expired.Lifespan = &pagecache.Lifespan{ExpireAt: time.Now().Add(-time.Minute).Unix()}

	require.NoError(t, h.Set(ctx, "/a", expired))

	e, err = h.Get(ctx, "/a", pagecache.GetMeta{})
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, h.Delete(ctx, "/static"))
	assert.Equal(t, 0, h.Len())
}

func TestHandler_RevalidateTag(t *testing.T) {
	ctx := context.Background()
	h := gocache.New(gocache.Config{Name: "local", CleanupInterval: time.Minute})
	before := time.Now().Add(-time.Second).UnixMilli()

	require.NoError(t, h.Set(ctx, "/a", pagecache.CacheEntry{LastModified: before, Tags: []string{"a", "b"}}))
	require.NoError(t, h.Set(ctx, "/b", pagecache.CacheEntry{LastModified: before, Tags: []string{"b"}}))
	require.NoError(t, h.Set(ctx, "/c", pagecache.CacheEntry{LastModified: before, Tags: []string{"c"}}))

	require.NoError(t, h.RevalidateTag(ctx, "b"))
	assert.Equal(t, 1, h.Len())

	e, err := h.Get(ctx, "/c", pagecache.GetMeta{ImplicitTags: []string{"/layout"}})
	require.NoError(t, err)
	assert.NotNil(t, e)

	require.NoError(t, h.RevalidateTag(ctx, "/layout"))

	e, err = h.Get(ctx, "/c", pagecache.GetMeta{ImplicitTags: []string{"/layout"}})
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestHandler_Set_farExpiration(t *testing.T) {
	ctx := context.Background()
	h := gocache.New(gocache.Config{})

	entry := pagecache.CacheEntry{
		LastModified: time.Now().UnixMilli(),
		Lifespan:     &pagecache.Lifespan{StaleAt: math.MaxInt64, ExpireAt: math.MaxInt64},
		Value:        pagecache.PageValue{HTML: "a"},
	}

	require.NoError(t, h.Set(ctx, "/a", entry))

	e, err := h.Get(ctx, "/a", pagecache.GetMeta{})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, entry, *e)
}
