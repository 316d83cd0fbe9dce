package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewResultCacheWithClient(client, 10*time.Minute), mr
}

func TestResultCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	key, err := Key("consolidate", map[string]interface{}{"dimensions": []string{"group"}})
	require.NoError(t, err)
	other, err := Key("consolidate", map[string]interface{}{"dimensions": []string{"account"}})
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	var got map[string]int
	hit, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, key, map[string]int{"sends": 300}))
	hit, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 300, got["sends"])

	mr.FastForward(11 * time.Minute)
	hit, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit, "entries expire after the TTL")
}

func TestResultCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("unrelated", "x"))

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mr.Exists("unrelated"))
}

func TestNilResultCache(t *testing.T) {
	c, err := NewResultCache("", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, c)

	var v int
	hit, err := c.Get(context.Background(), "k", &v)
	assert.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.Set(context.Background(), "k", 1))

	_, err = NewResultCache("not a url", time.Minute)
	assert.Error(t, err)
}
