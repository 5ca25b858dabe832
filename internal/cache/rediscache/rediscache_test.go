package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_ShipDocumentLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	doc := []byte(`{"externalId":"ext-1","syncVersion":2}`)
	require.NoError(t, c.Set(ctx, "ship:ext-1", doc, time.Minute))

	b, ok, err := c.Get(ctx, "ship:ext-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, string(doc), string(b))

	require.NoError(t, c.Del(ctx, "ship:ext-1", "ship:cutlass-black"))
	_, ok, err = c.Get(ctx, "ship:ext-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Del(ctx))
}

func TestRedisCache_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr()).WithPrefix("fleetsync:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ships:manufacturers", []byte(`[]`), time.Minute))
	require.True(t, mr.Exists("fleetsync:ships:manufacturers"))
	require.False(t, mr.Exists("ships:manufacturers"))

	require.NoError(t, c.Del(ctx, "ships:manufacturers"))
	require.False(t, mr.Exists("fleetsync:ships:manufacturers"))
}

func TestRedisCache_GetMany(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr()).WithPrefix("fs:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ship:a", []byte("A"), time.Minute))
	require.NoError(t, c.Set(ctx, "ship:c", []byte("C"), time.Minute))

	got, err := c.GetMany(ctx, []string{"ship:a", "ship:b", "ship:c"})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"ship:a": []byte("A"), "ship:c": []byte("C")}, got)

	got, err = c.GetMany(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRedisCache_TTLAndOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ship:ext-1", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "ship:ext-1")
	require.NoError(t, err)
	require.False(t, ok)

	mr.Close()
	_, _, err = c.Get(ctx, "ship:ext-1")
	require.ErrorContains(t, err, "redis get ship:ext-1")
	require.Error(t, c.Ping(ctx))
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())
	fixed := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	rl.WithClock(func() time.Time { return fixed })

	ctx := context.Background()
	for want := int64(1); want <= 2; want++ {
		ok, n, err := rl.Allow(ctx, "fleetsync:catalog:rl", 2, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, n)
	}

	ok, n, _ := rl.Allow(ctx, "fleetsync:catalog:rl", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	require.Equal(t, 50*time.Second, rl.NextWindow(time.Minute))

	// новое окно: новый счётчик
	fixed = fixed.Add(time.Minute)
	ok, n, _ = rl.Allow(ctx, "fleetsync:catalog:rl", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}
