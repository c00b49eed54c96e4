// Package cache holds the last-known device snapshot and coordinates
// refreshes so concurrent callers never issue duplicate fetches against the
// device's small embedded HTTP server.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// StateFetcher is the slice of the device API the cache needs.
type StateFetcher interface {
	GetState(ctx context.Context) (types.DeviceSnapshot, error)
}

// Reading is what callers get from Read: the retained snapshot plus whether
// its age exceeds the configured maximum staleness.
type Reading struct {
	Snapshot types.DeviceSnapshot
	Stale    bool
}

// Cache holds at most one current snapshot. Refresh is the only mutator;
// Read never blocks.
type Cache struct {
	dev      StateFetcher
	maxStale time.Duration

	sf singleflight.Group

	mu      sync.Mutex
	snap    types.DeviceSnapshot
	hasSnap bool
}

// New returns a Cache reading from dev. Snapshots older than maxStale are
// still served but flagged stale.
func New(dev StateFetcher, maxStale time.Duration) *Cache {
	return &Cache{dev: dev, maxStale: maxStale}
}

// Read returns a copy of the current snapshot without blocking. The second
// return is false before the first successful refresh.
func (c *Cache) Read() (Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasSnap {
		return Reading{}, false
	}
	return Reading{
		Snapshot: c.snap,
		Stale:    time.Since(c.snap.CapturedAt) > c.maxStale,
	}, true
}

// Refresh fetches a new snapshot, collapsing concurrent callers onto a
// single device fetch whose result they all share. The fetch itself runs
// detached from any one caller's cancellation: a cancelled caller unblocks
// with its context error while the fetch finishes, bounded by the device
// client's own request timeout, and still installs its result. On failure
// the prior snapshot is retained and keeps serving reads.
func (c *Cache) Refresh(ctx context.Context) (types.DeviceSnapshot, error) {
	ch := c.sf.DoChan("refresh", func() (interface{}, error) {
		snap, err := c.dev.GetState(context.WithoutCancel(ctx))
		if err != nil {
			return types.DeviceSnapshot{}, err
		}
		c.install(snap)
		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return types.DeviceSnapshot{}, res.Err
		}
		return res.Val.(types.DeviceSnapshot), nil
	case <-ctx.Done():
		return types.DeviceSnapshot{}, ctx.Err()
	}
}

// install makes snap the current snapshot unless a strictly newer one is
// already installed, which happens when fetches resolve out of order.
func (c *Cache) install(snap types.DeviceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSnap && snap.CapturedAt.Before(c.snap.CapturedAt) {
		slog.Debug("discarding out-of-order snapshot",
			slog.Time("incoming", snap.CapturedAt),
			slog.Time("installed", c.snap.CapturedAt))
		return
	}
	c.snap = snap
	c.hasSnap = true
}
