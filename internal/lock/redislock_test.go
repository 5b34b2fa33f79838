package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bbtraining/checkout-api/internal/lock"
)

func TestWithLockSerialisesHolders(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, locker.CheckoutKey("demo"), 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone

	go func() {
		err := locker.WithLock(ctx, locker.CheckoutKey("demo"), 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(releaseFirst)
	time.Sleep(20 * time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestTryWithLockRejectsConcurrentHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client}
	key := locker.CheckoutKey("cart-1")
	require.Equal(t, "lock:checkout:cart-1", key)

	ctx := context.Background()
	err := locker.TryWithLock(ctx, key, time.Second, func(ctx context.Context) error {
		inner := locker.TryWithLock(ctx, key, time.Second, func(context.Context) error { return nil })
		require.ErrorIs(t, inner, lock.ErrHeld)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists(key), "lock released after callback")

	ran := false
	require.NoError(t, locker.TryWithLock(ctx, key, time.Second, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

func TestTryWithLockKeepsLeaseAlive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client}
	key := locker.CheckoutKey("slow")
	ttl := 60 * time.Millisecond

	err := locker.TryWithLock(context.Background(), key, ttl, func(ctx context.Context) error {
		mr.SetTTL(key, time.Millisecond)
		require.Eventually(t, func() bool {
			return mr.TTL(key) > 10*time.Millisecond
		}, time.Second, 5*time.Millisecond)
		return ctx.Err()
	})
	require.NoError(t, err)
	require.False(t, mr.Exists(key))
}

func TestTryWithLockCancelsWhenLeaseLost(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client}
	key := locker.CheckoutKey("stolen")

	err := locker.TryWithLock(context.Background(), key, 30*time.Millisecond, func(ctx context.Context) error {
		mr.Set(key, "someone-else")
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(time.Second):
			return nil
		}
	})
	require.ErrorIs(t, err, lock.ErrLost)

	val, getErr := mr.Get(key)
	require.NoError(t, getErr)
	require.Equal(t, "someone-else", val, "foreign holder is left untouched")
}
