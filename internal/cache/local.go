package cache

import (
	"context"
	"sync/atomic"
)

// LocalCache keeps the snapshot in process memory for single-instance deployments.
type LocalCache struct {
	snap atomic.Pointer[SpendSnapshot]
}

// NewLocalCache creates an empty local cache.
func NewLocalCache() *LocalCache {
	return &LocalCache{}
}

func (c *LocalCache) Get(context.Context) (*SpendSnapshot, error) {
	return c.snap.Load(), nil
}

func (c *LocalCache) Set(_ context.Context, snap *SpendSnapshot) error {
	c.snap.Store(snap)
	return nil
}

// Close is a no-op for local cache.
func (c *LocalCache) Close() error {
	return nil
}
