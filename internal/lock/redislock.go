package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrHeld is returned by TryWithLock when another holder owns the key.
	ErrHeld = errors.New("lock: already held")
	// ErrLost is the cancellation cause seen by fn when the key expired or
	// was taken over while fn was still running.
	ErrLost = errors.New("lock: ownership lost")
)

// Both scripts act only when KEYS[1] still carries our token.
var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out Redis leases keyed by resource. While a callback runs the
// lease is refreshed every third of its TTL, so slow upstream calls do not let
// a second submission in.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	Prefix       string
}

// CheckoutKey is the lock key guarding a single cart's submission.
func (l Locker) CheckoutKey(cartID string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "lock:"
	}
	return prefix + "checkout:" + strings.TrimSpace(cartID)
}

// WithLock waits until key is free, then runs fn while holding it.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	lease, err := l.acquire(ctx, key, ttl, true)
	if err != nil {
		return err
	}
	return lease.run(ctx, fn)
}

// TryWithLock runs fn only if key is free right now, otherwise ErrHeld.
func (l Locker) TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	lease, err := l.acquire(ctx, key, ttl, false)
	if err != nil {
		return err
	}
	return lease.run(ctx, fn)
}

type lease struct {
	r     *redis.Client
	key   string
	token string
	ttl   time.Duration
}

func (l Locker) acquire(ctx context.Context, key string, ttl time.Duration, wait bool) (*lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &lease{r: l.R, key: key, token: token, ttl: ttl}, nil
		}
		if !wait {
			return nil, ErrHeld
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (ls *lease) run(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		ls.unlock()
		return errors.New("lock: callback not provided")
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ls.keepAlive(runCtx, done, cancel)
	}()

	err := fn(runCtx)
	close(done)
	<-stopped
	cancel(nil)
	ls.unlock()
	return err
}

func (ls *lease) keepAlive(ctx context.Context, done <-chan struct{}, cancel context.CancelCauseFunc) {
	interval := ls.ttl / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			n, err := refreshScript.Run(ctx, ls.r, []string{ls.key}, ls.token, ls.ttl.Milliseconds()).Int64()
			if err == nil && n == 0 {
				cancel(ErrLost)
				return
			}
			// transient redis errors leave the current TTL running
		}
	}
}

func (ls *lease) unlock() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = unlockScript.Run(ctx, ls.r, []string{ls.key}, ls.token).Err()
}
