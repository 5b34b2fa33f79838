// Package cache keeps JSON documents in Redis for the lookup tables, VAT
// results and email-existence answers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// JSON is a TTL-bound document cache. The zero value and a nil *JSON are
// valid and never hit.
type JSON struct {
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

// NewJSON returns a cache writing entries with ttl.
func NewJSON(rdb *redis.Client, ttl time.Duration) *JSON {
	return &JSON{rdb: rdb, ttl: ttl}
}

func (c *JSON) enabled(key string) bool {
	return c != nil && c.rdb != nil && key != ""
}

// Get decodes the entry at key into dst and reports whether it was present.
func (c *JSON) Get(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled(key) {
		return false, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores v at key.
func (c *JSON) Set(ctx context.Context, key string, v any) error {
	if !c.enabled(key) {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, c.ttl).Err()
}

// Delete drops key.
func (c *JSON) Delete(ctx context.Context, key string) error {
	if !c.enabled(key) {
		return nil
	}
	return c.rdb.Del(ctx, key).Err()
}

// Load is a read-through Get: on a miss, fill runs once per key no matter how
// many callers are waiting, its result is stored and decoded into dst. Redis
// failures are logged and degrade to calling fill. The bool reports a hit.
func (c *JSON) Load(ctx context.Context, key string, dst any, fill func(context.Context) (any, error)) (bool, error) {
	log := zerolog.Ctx(ctx)
	hit, err := c.Get(ctx, key, dst)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	if hit {
		return true, nil
	}

	produce := func() (any, error) {
		v, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if c.enabled(key) {
			if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("cache write failed")
			}
		}
		return raw, nil
	}

	var out any
	if c == nil {
		out, err = produce()
	} else {
		out, err, _ = c.group.Do(key, produce)
	}
	if err != nil {
		return false, err
	}
	return false, json.Unmarshal(out.([]byte), dst)
}
