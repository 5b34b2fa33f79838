package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Ulule adapts a fixed-window ulule/limiter store to the Limiter interface.
// Rates are built lazily per (window, max) pair so one store serves every route.
type Ulule struct {
	store limiter.Store

	mu    sync.Mutex
	rates map[rateKey]*limiter.Limiter
}

type rateKey struct {
	window time.Duration
	max    int
}

// NewUlule wires a limiter store backed by Redis.
func NewUlule(rdb *redis.Client, prefix string) (*Ulule, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	return &Ulule{store: store, rates: make(map[rateKey]*limiter.Limiter)}, nil
}

// Allow consumes one token for key.
func (u *Ulule) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if u == nil || u.store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lctx, err := u.limiterFor(window, max).Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}

func (u *Ulule) limiterFor(window time.Duration, max int) *limiter.Limiter {
	k := rateKey{window: window, max: max}
	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.rates[k]; ok {
		return l
	}
	l := limiter.New(u.store, limiter.Rate{Period: window, Limit: int64(max)})
	u.rates[k] = l
	return l
}
