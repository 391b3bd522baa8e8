package storage

import (
	"context"

	"traffic-router/internal/cache"
	"traffic-router/internal/engine"
)

// TargetCache holds an in-memory snapshot of all targets so decisions
// never block on Postgres. It is refreshed at startup, after local
// writes, and whenever the change listener fires; staleness between
// refreshes is accepted.
type TargetCache struct {
	load func(context.Context) ([]engine.Target, error)
	snap cache.Snapshot[[]engine.Target]
}

func NewTargetCache(load func(context.Context) ([]engine.Target, error)) *TargetCache {
	return &TargetCache{load: load}
}

// Refresh reloads the snapshot from the backing store. On error the
// previous snapshot stays in place.
func (c *TargetCache) Refresh(ctx context.Context) error {
	ts, err := c.load(ctx)
	if err != nil {
		return err
	}
	c.snap.Store(ts)
	return nil
}

// ListAll returns the current snapshot. Satisfies engine.TargetSource.
func (c *TargetCache) ListAll(_ context.Context) ([]engine.Target, error) {
	ts, _ := c.snap.Load()
	return ts, nil
}
