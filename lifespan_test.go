package pagecache_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/pagecache"
)

func TestTTL_Lifespan(t *testing.T) {
	ttl, err := pagecache.NewTTL(0, nil)
	require.NoError(t, err)

	l := ttl.Lifespan(1700000000000, 60)
	assert.Equal(t, pagecache.Lifespan{
		LastModifiedAt: 1700000000,
		StaleAge:       60,
		StaleAt:        1700000060,
		ExpireAge:      60,
		ExpireAt:       1700000060,
		Revalidate:     60,
	}, l)

	// Milliseconds are floored.
	l = ttl.Lifespan(1700000000999, 60)
	assert.Equal(t, int64(1700000000), l.LastModifiedAt)

	for _, r := range []pagecache.Revalidate{1, 59, 3600, 86400 * 30} {
		l := ttl.Lifespan(1700000000000, r)
		assert.Equal(t, int64(r), l.StaleAt-l.LastModifiedAt)
		assert.GreaterOrEqual(t, l.ExpireAt, l.StaleAt)
	}
}

func TestTTL_Lifespan_defaultStaleAge(t *testing.T) {
	ttl, err := pagecache.NewTTL(0, nil)
	require.NoError(t, err)

	for _, r := range []pagecache.Revalidate{0, -1} {
		l := ttl.Lifespan(1700000000000, r)
		assert.Equal(t, int64(31536000), l.StaleAge)
		assert.Equal(t, l.StaleAt, l.ExpireAt)
	}

	ttl, err = pagecache.NewTTL(600, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(600), ttl.Lifespan(0, 0).StaleAge)
}

func TestNewTTL_estimator(t *testing.T) {
	ttl, err := pagecache.NewTTL(0, func(staleAge int64) int64 {
		return staleAge * 2
	})
	require.NoError(t, err)

	l := ttl.Lifespan(1700000000000, 60)
	assert.Equal(t, int64(120), l.ExpireAge)
	assert.Equal(t, int64(1700000120), l.ExpireAt)
	assert.Equal(t, int64(1700000060), l.StaleAt)
}

func TestNewTTL_invalidEstimator(t *testing.T) {
	ttl, err := pagecache.NewTTL(0, func(staleAge int64) int64 {
		return staleAge - 1
	})
	assert.True(t, errors.Is(err, pagecache.ErrInvalidEstimator))
	assert.Nil(t, ttl.EstimateExpireAge)

	l := ttl.Lifespan(1700000000000, 60)
	assert.Equal(t, l.StaleAge, l.ExpireAge)
}

func TestTTL_Lifespan_clamp(t *testing.T) {
	// Estimator is valid on sampled ages only.
	ttl := pagecache.TTL{EstimateExpireAge: func(staleAge int64) int64 {
		return 10
	}}

	l := ttl.Lifespan(1700000000000, 60)
	assert.Equal(t, int64(60), l.ExpireAge)
}

func TestTTL_Lifespan_neverExpire(t *testing.T) {
	ttl, err := pagecache.NewTTL(0, func(staleAge int64) int64 {
		return math.MaxInt64
	})
	require.NoError(t, err)

	l := ttl.Lifespan(1700000000000, 60)
	assert.Equal(t, int64(1700000060), l.StaleAt)
	assert.Equal(t, int64(math.MaxInt64), l.ExpireAt)
	assert.False(t, l.IsExpired(1700000000))
	assert.False(t, l.IsExpired(math.MaxInt64))
}

func TestTTL_Lifespan_boundaries(t *testing.T) {
	estimators := map[string]func(staleAge int64) int64{
		"identity": nil,
		"double":   func(staleAge int64) int64 { return staleAge * 2 },
		"max":      func(int64) int64 { return math.MaxInt64 },
		"offset":   func(staleAge int64) int64 { return staleAge + math.MaxInt64/2 },
	}

	for name, estimator := range estimators {
		ttl := pagecache.TTL{EstimateExpireAge: estimator}

		for _, lastModified := range []int64{0, 1700000000000, math.MaxInt64 / 2, math.MaxInt64} {
			for _, r := range []pagecache.Revalidate{
				1, 60, math.MaxInt32, math.MaxInt64 / 2, math.MaxInt64 - 1, math.MaxInt64,
			} {
				l := ttl.Lifespan(lastModified, r)

				assert.GreaterOrEqual(t, l.StaleAt, l.LastModifiedAt, name, lastModified, r)
				assert.GreaterOrEqual(t, l.ExpireAt, l.StaleAt, name, lastModified, r)
				assert.GreaterOrEqual(t, l.ExpireAge, l.StaleAge, name, lastModified, r)
				assert.False(t, l.IsExpired(l.LastModifiedAt), name, lastModified, r)
			}
		}
	}
}

func TestTTL_Lifespan_maxRevalidate(t *testing.T) {
	ttl, err := pagecache.NewTTL(0, nil)
	require.NoError(t, err)

	l := ttl.Lifespan(1700000000000, math.MaxInt64)
	assert.Equal(t, int64(math.MaxInt64), l.StaleAge)
	assert.Equal(t, int64(math.MaxInt64), l.StaleAt)
	assert.Equal(t, int64(math.MaxInt64), l.ExpireAt)
	assert.False(t, l.IsStale(1700000000))
	assert.False(t, l.IsExpired(1700000000))
}

func TestNewTTL_negativeDefaultStaleAge(t *testing.T) {
	ttl, err := pagecache.NewTTL(-1, nil)
	assert.True(t, errors.Is(err, pagecache.ErrInvalidStaleAge))
	assert.Equal(t, pagecache.DefaultStaleAge, ttl.DefaultStaleAge)

	ttl, err = pagecache.NewTTL(-1, func(staleAge int64) int64 {
		return 0
	})
	assert.True(t, errors.Is(err, pagecache.ErrInvalidStaleAge))
	assert.True(t, errors.Is(err, pagecache.ErrInvalidEstimator))
	assert.Nil(t, ttl.EstimateExpireAge)
	assert.Equal(t, pagecache.DefaultStaleAge, ttl.Lifespan(0, 0).ExpireAge)
}

func TestLifespan_ExpiresIn(t *testing.T) {
	now := time.Unix(1700000000, 0)

	l := &pagecache.Lifespan{ExpireAt: 1700000060}
	assert.Equal(t, time.Minute, l.ExpiresIn(now))
	assert.Equal(t, time.Minute-time.Millisecond, l.ExpiresIn(now.Add(time.Millisecond)))
	assert.Equal(t, -time.Minute, l.ExpiresIn(now.Add(2*time.Minute)))

	l = &pagecache.Lifespan{ExpireAt: math.MaxInt64}
	assert.Equal(t, time.Duration(math.MaxInt64), l.ExpiresIn(now))
}

func TestLifespan_states(t *testing.T) {
	l := &pagecache.Lifespan{StaleAt: 100, ExpireAt: 200}

	assert.False(t, l.IsStale(99))
	assert.True(t, l.IsStale(100))
	assert.False(t, l.IsExpired(200))
	assert.True(t, l.IsExpired(201))

	var absent *pagecache.Lifespan

	assert.False(t, absent.IsStale(1<<40))
	assert.False(t, absent.IsExpired(1<<40))
}

func TestRevalidate_JSON(t *testing.T) {
	var l pagecache.Lifespan

	require.NoError(t, json.Unmarshal([]byte(`{"revalidate":false}`), &l))
	assert.Equal(t, pagecache.Revalidate(0), l.Revalidate)

	require.NoError(t, json.Unmarshal([]byte(`{"revalidate":60.5}`), &l))
	assert.Equal(t, pagecache.Revalidate(60), l.Revalidate)

	require.NoError(t, json.Unmarshal([]byte(`{"revalidate":null}`), &l))
	assert.Equal(t, pagecache.Revalidate(0), l.Revalidate)

	assert.Error(t, json.Unmarshal([]byte(`{"revalidate":"soon"}`), &l))

	b, err := json.Marshal(pagecache.Revalidate(0))
	require.NoError(t, err)
	assert.Equal(t, "false", string(b))

	b, err = json.Marshal(pagecache.Revalidate(60))
	require.NoError(t, err)
	assert.Equal(t, "60", string(b))
}
