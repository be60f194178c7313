package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plantsage/backend/internal/cache"
)

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := New(time.Minute, time.Minute)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := New(time.Minute, time.Minute)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	c := New(time.Minute, time.Minute)
	require.NoError(t, c.Set(ctx, cache.PrefixQuery+"a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, cache.PrefixQuery+"b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, cache.PrefixEmbedding+"a", []byte("3"), 0))

	require.NoError(t, c.DeletePrefix(ctx, cache.PrefixQuery))

	_, ok, _ := c.Get(ctx, cache.PrefixQuery+"a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, cache.PrefixEmbedding+"a")
	assert.True(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := New(time.Minute, time.Minute)

	require.NoError(t, cache.SetJSON(ctx, c, "vec", []float32{0.5, 1}, 0))
	var got []float32
	ok, err := cache.GetJSON(ctx, c, "vec", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 1}, got)

	require.NoError(t, c.Set(ctx, "broken", []byte("{"), 0))
	ok, err = cache.GetJSON(ctx, c, "broken", &got)
	assert.Error(t, err)
	assert.False(t, ok)
}
