package pagecache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/pagecache"
)

func TestInvalidator_Invalidate(t *testing.T) {
	cache1 := pagecache.NewMemory()
	cache2 := pagecache.NewMemory()

	defer cache1.Close()
	defer cache2.Close()

	i := &pagecache.Invalidator{}
	err := i.Invalidate(context.Background())
	assert.True(t, errors.Is(err, pagecache.ErrNothingToInvalidate))

	ctx := context.Background()

	c := pagecache.New(pagecache.Config{
		DistDir: t.TempDir(),
		OnCreation: func(ctx context.Context, cc pagecache.CreationContext) (pagecache.HandlerConfig, error) {
			return pagecache.HandlerConfig{Handlers: []pagecache.Handler{cache1, cache2}}, nil
		},
	})

	i.Target = c
	i.Tags = []string{"posts"}

	require.NoError(t, c.Set(ctx, "/posts", pagecache.RouteValue{Body: []byte("[]")}, pagecache.SetOptions{
		Tags: []string{"posts"},
	}))

	assert.Equal(t, 1, cache1.Len())
	assert.Equal(t, 1, cache2.Len())

	err = i.Invalidate(ctx)
	assert.NoError(t, err)

	assert.Equal(t, 0, cache1.Len())
	assert.Equal(t, 0, cache2.Len())

	err = i.Invalidate(ctx)
	assert.True(t, errors.Is(err, pagecache.ErrAlreadyInvalidated))

	i.SkipInterval = time.Nanosecond

	time.Sleep(time.Millisecond)
	assert.NoError(t, i.Invalidate(ctx))
}
