// Package poller drives periodic and on-demand cache refreshes and fans new
// snapshots out to subscribers.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yetiwatch/yetiwatch/pkg/cache"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// Poller refreshes the cache on a fixed interval and exposes ForceRefresh
// for on-demand polls, like the dispatcher's verification reads. A refresh
// requested while one is in flight joins it instead of starting another.
type Poller struct {
	cache    *cache.Cache
	interval time.Duration

	mu           sync.Mutex
	subs         []func(ctx context.Context, snap types.DeviceSnapshot)
	lastNotified time.Time
}

// New returns a Poller refreshing c every interval.
func New(c *cache.Cache, interval time.Duration) *Poller {
	return &Poller{cache: c, interval: interval}
}

// Subscribe registers fn to run once per new snapshot. Register before Run;
// subscribers run synchronously on whichever goroutine produced the
// snapshot.
func (p *Poller) Subscribe(fn func(ctx context.Context, snap types.DeviceSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
// Failures are logged and the loop keeps going; the cache serves the
// retained snapshot meanwhile.
func (p *Poller) Run(ctx context.Context) {
	p.ForceRefresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ForceRefresh(ctx)
		}
	}
}

// ForceRefresh refreshes the cache now, joining any refresh already in
// flight, and notifies subscribers when the result is newer than what they
// last saw.
func (p *Poller) ForceRefresh(ctx context.Context) (types.DeviceSnapshot, error) {
	snap, err := p.cache.Refresh(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "device refresh failed", slog.Any("error", err))
		return types.DeviceSnapshot{}, err
	}
	p.notify(ctx, snap)
	return snap, nil
}

func (p *Poller) notify(ctx context.Context, snap types.DeviceSnapshot) {
	p.mu.Lock()
	if !snap.CapturedAt.After(p.lastNotified) {
		p.mu.Unlock()
		return
	}
	p.lastNotified = snap.CapturedAt
	subs := make([]func(context.Context, types.DeviceSnapshot), len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(ctx, snap)
	}
}
