package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
)

func entryFor(domain string, ts time.Time) *core.CacheEntry {
	return &core.CacheEntry{
		Data: &core.SenderInfo{
			FullDomain: domain,
			RootDomain: domain,
			LogoSource: core.LogoSourceFavicon,
		},
		Timestamp: ts,
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(zap.NewNop())
	ctx := context.Background()

	want := entryFor("stripe.com", time.Now())
	require.NoError(t, c.Set(ctx, "billing@stripe.com", want))

	got, ok := c.Get(ctx, "billing@stripe.com")
	require.True(t, ok)
	assert.Empty(t, cmp.Diff(want.Data, got.Data))
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache(zap.NewNop())

	_, ok := c.Get(context.Background(), "nobody@nowhere.test")
	assert.False(t, ok)
}

func TestMemoryCacheDeleteAndClear(t *testing.T) {
	c := NewMemoryCache(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a@x.com", entryFor("x.com", time.Now())))
	require.NoError(t, c.Set(ctx, "b@y.com", entryFor("y.com", time.Now())))

	require.NoError(t, c.Delete(ctx, "a@x.com"))
	_, ok := c.Get(ctx, "a@x.com")
	assert.False(t, ok)

	require.NoError(t, c.Clear(ctx))
	_, ok = c.Get(ctx, "b@y.com")
	assert.False(t, ok)
}

func TestMemoryCacheCleanupHonorsMaxAge(t *testing.T) {
	c := NewMemoryCache(zap.NewNop())
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	ttl := 24 * time.Hour
	// One entry just inside the TTL, one just outside.
	require.NoError(t, c.Set(ctx, "fresh@x.com", entryFor("x.com", now.Add(-ttl+time.Millisecond))))
	require.NoError(t, c.Set(ctx, "stale@y.com", entryFor("y.com", now.Add(-ttl-time.Millisecond))))

	require.NoError(t, c.Cleanup(ctx, ttl))

	_, ok := c.Get(ctx, "fresh@x.com")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "stale@y.com")
	assert.False(t, ok)
}

func TestMemoryCacheVersion(t *testing.T) {
	c := NewMemoryCache(zap.NewNop())
	ctx := context.Background()

	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, c.SetVersion(ctx, "1.2.0"))
	v, err = c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", v)
}
