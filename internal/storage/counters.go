package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counters is the daily accept counter store, backed by Redis. One key
// per target, expiring at the UTC day boundary via the TTL the engine
// supplies on each increment.
type Counters struct {
	rdb *redis.Client
}

func NewCounters(rdb *redis.Client) *Counters {
	return &Counters{rdb: rdb}
}

func counterKey(id string) string {
	return "target:" + id + ":acceptsToday"
}

// GetMany reads the accept counts for all ids in one MGET round-trip,
// in input order. Absent counters read as 0.
func (c *Counters) GetMany(ctx context.Context, ids []string) ([]int64, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = counterKey(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget accept counters: %w", err)
	}
	counts := make([]int64, len(ids))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // nil reply: no accepts today
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s holds non-integer %q", keys[i], s)
		}
		counts[i] = n
	}
	return counts, nil
}

// IncrementAndExpire bumps the counter and refreshes its expiry in a
// single MULTI/EXEC, so concurrent accepts are never lost and the key
// always carries a deadline. Returns the count after increment.
func (c *Counters) IncrementAndExpire(ctx context.Context, id string, ttl time.Duration) (int64, error) {
	key := counterKey(id)
	var incr *redis.IntCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr accept counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (c *Counters) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
