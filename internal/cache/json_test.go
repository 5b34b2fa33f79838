package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewJSON(client, time.Minute)
	ctx := context.Background()
	key := KeyVAT("de", "123456789")
	require.Equal(t, "checkout:vat:DE:123456789", key)

	require.NoError(t, c.Set(ctx, key, map[string]bool{"valid": true}))
	var got map[string]bool
	ok, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got["valid"])

	mr.FastForward(2 * time.Minute)
	ok, err = c.Get(ctx, key, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNilClientIsNoop(t *testing.T) {
	c := NewJSON(nil, time.Minute)
	ok, err := c.Get(context.Background(), "k", &struct{}{})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Set(context.Background(), "k", 1))
}

func TestKeyEmailIsCaseInsensitiveHash(t *testing.T) {
	require.Equal(t, KeyEmail("A@B.de "), KeyEmail("a@b.de"))
	require.NotContains(t, KeyEmail("a@b.de"), "a@b.de")
}

func TestLoadCollapsesConcurrentMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewJSON(client, time.Minute)

	var fills int32
	gate := make(chan struct{})
	fill := func(context.Context) (any, error) {
		atomic.AddInt32(&fills, 1)
		<-gate
		return map[string]int{"id": 7}, nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got map[string]int
			_, err := c.Load(context.Background(), "checkout:email:x", &got, fill)
			require.NoError(t, err)
			require.Equal(t, 7, got["id"])
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&fills))

	var got map[string]int
	hit, err := c.Load(context.Background(), "checkout:email:x", &got, fill)
	require.NoError(t, err)
	require.True(t, hit)
	require.EqualValues(t, 1, atomic.LoadInt32(&fills))
}

func TestLoadDoesNotCacheFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewJSON(client, time.Minute)

	boom := errors.New("store down")
	var dst struct{}
	_, err := c.Load(context.Background(), "k", &dst, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("k"))
}
