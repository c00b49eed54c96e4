// Package controller owns one Yeti's full pipeline: the device client, the
// snapshot cache, the poller, the command dispatcher, the energy meter, the
// history database, and the MQTT publisher. Callers construct a Controller
// explicitly and tear it down with Close; there is no package-level instance.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/cache"
	"github.com/yetiwatch/yetiwatch/pkg/discovery"
	"github.com/yetiwatch/yetiwatch/pkg/dispatch"
	"github.com/yetiwatch/yetiwatch/pkg/energy"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/mqtt"
	"github.com/yetiwatch/yetiwatch/pkg/poller"
	"github.com/yetiwatch/yetiwatch/pkg/storage"
	"github.com/yetiwatch/yetiwatch/pkg/types"
	"github.com/yetiwatch/yetiwatch/pkg/yeti"
)

const (
	// DefaultRefreshInterval is how often the poller fetches device state.
	DefaultRefreshInterval = 5 * time.Second
	// DefaultMaxStaleness is the snapshot age past which reads are flagged
	// stale.
	DefaultMaxStaleness = 30 * time.Second
)

// Controller coordinates everything that happens to one device.
type Controller struct {
	dev    yeti.Device
	db     storage.Database
	pub    *mqtt.Publisher
	cache  *cache.Cache
	poller *poller.Poller
	disp   *dispatch.Dispatcher
	meter  *energy.Meter

	discover bool

	mu   sync.RWMutex
	info types.DeviceInfo
	subs []func(context.Context, types.DeviceSnapshot)
}

// dispatchState adapts the Controller to the dispatcher's read and refresh
// interfaces so verification polls flow through the shared pipeline.
type dispatchState struct {
	c *Controller
}

func (s dispatchState) Read() (cache.Reading, bool) {
	return s.c.Read()
}

func (s dispatchState) ForceRefresh(ctx context.Context) (types.DeviceSnapshot, error) {
	return s.c.Refresh(ctx)
}

// New returns a Controller with explicit intervals, for callers that do not
// use flags. Command verification uses the dispatch defaults.
func New(dev yeti.Device, db storage.Database, pub *mqtt.Publisher, refreshInterval, maxStale time.Duration) *Controller {
	c := &Controller{
		dev:   dev,
		db:    db,
		pub:   pub,
		meter: energy.NewMeter(),
	}
	c.cache = cache.New(dev, maxStale)
	c.poller = poller.New(c.cache, refreshInterval)
	c.poller.Subscribe(c.onSnapshot)
	c.disp = dispatch.New(dev, dispatchState{c}, dispatchState{c}, 0, 0)
	return c
}

// Configured returns a Controller with intervals taken from flags.
func Configured(dev yeti.Device, db storage.Database, pub *mqtt.Publisher) *Controller {
	refreshInterval := lflag.Duration("refresh-interval", DefaultRefreshInterval, "How often device state is polled")
	maxStale := lflag.Duration("max-staleness", DefaultMaxStaleness, "Snapshot age past which reads are reported stale")
	discover := lflag.Bool("device-discover", false, "Find the device over mDNS at startup instead of trusting -device-addr")

	c := &Controller{
		dev:   dev,
		db:    db,
		pub:   pub,
		meter: energy.NewMeter(),
	}
	c.disp = dispatch.Configured(dev, dispatchState{c}, dispatchState{c})
	lflag.Do(func() {
		c.cache = cache.New(dev, *maxStale)
		c.poller = poller.New(c.cache, *refreshInterval)
		c.poller.Subscribe(c.onSnapshot)
		c.discover = *discover
	})
	return c
}

// Start discovers the device if asked, learns its identity, and begins
// polling. It returns once the poller goroutine is running; cancel ctx to
// stop polling.
func (c *Controller) Start(ctx context.Context) error {
	if c.discover {
		found, err := discovery.NewScanner().FindFirst(ctx)
		switch {
		case err != nil:
			log.Ctx(ctx).WarnContext(ctx, "device discovery failed, keeping configured address",
				slog.String("error", err.Error()),
				slog.String("addr", c.dev.BaseURL()),
			)
		default:
			if err := c.dev.SetBaseURL(found.BaseURL()); err != nil {
				return fmt.Errorf("failed to use discovered address %s: %w", found.BaseURL(), err)
			}
			log.Ctx(ctx).InfoContext(ctx, "discovered device",
				slog.String("name", found.Name),
				slog.String("addr", found.BaseURL()),
			)
		}
	}

	// Identity rarely changes, but the model decides the meter's capacity
	// clamp. The device may be offline right now; DeviceInfo retries later.
	if info, err := c.dev.GetDeviceInfo(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "device identity unavailable at startup",
			slog.String("error", err.Error()),
		)
	} else {
		c.setInfo(info)
	}

	go c.poller.Run(ctx)
	return nil
}

// Read returns the retained snapshot without touching the network. The
// second return is false before the first successful refresh.
func (c *Controller) Read() (cache.Reading, bool) {
	return c.cache.Read()
}

// Refresh fetches fresh state now, joining any refresh already in flight.
// Subscribers see the snapshot before Refresh returns.
func (c *Controller) Refresh(ctx context.Context) (types.DeviceSnapshot, error) {
	return c.poller.ForceRefresh(ctx)
}

// Dispatch resolves req to a terminal outcome and records it. Recording
// failures are logged, never surfaced; the outcome already happened.
func (c *Controller) Dispatch(ctx context.Context, req types.CommandRequest) types.CommandOutcome {
	out := c.disp.Dispatch(ctx, req)

	// Record even when the caller cancelled mid-dispatch.
	actx := context.WithoutCancel(ctx)
	if deviceID := c.DeviceID(); deviceID != "" {
		if err := c.db.InsertCommand(actx, deviceID, out); err != nil {
			log.Ctx(actx).WarnContext(actx, "failed to record command outcome",
				slog.String("error", err.Error()),
				slog.String("id", out.ID),
			)
		}
		if err := c.pub.PublishCommand(actx, deviceID, out); err != nil {
			log.Ctx(actx).WarnContext(actx, "failed to publish command outcome",
				slog.String("error", err.Error()),
				slog.String("id", out.ID),
			)
		}
	}
	return out
}

// DeviceInfo fetches the device's identity, served from the client's short
// cache when fresh.
func (c *Controller) DeviceInfo(ctx context.Context) (types.DeviceInfo, error) {
	info, err := c.dev.GetDeviceInfo(ctx)
	if err != nil {
		return types.DeviceInfo{}, err
	}
	c.setInfo(info)
	return info, nil
}

func (c *Controller) setInfo(info types.DeviceInfo) {
	c.mu.Lock()
	c.info = info
	c.mu.Unlock()
	if wh := yeti.CapacityWh(info.Model); wh > 0 {
		c.meter.SetCapacity(wh)
	}
}

// DeviceID returns the name history is keyed by: the sysinfo name when
// known, otherwise the thing name from the latest snapshot, otherwise empty.
func (c *Controller) DeviceID() string {
	c.mu.RLock()
	name := c.info.Name
	c.mu.RUnlock()
	if name != "" {
		return name
	}
	if r, ok := c.cache.Read(); ok {
		return r.Snapshot.ThingName
	}
	return ""
}

// Network returns the Wi-Fi view of the latest snapshot. The second return
// is false before the first successful refresh.
func (c *Controller) Network() (types.NetworkStatus, bool) {
	r, ok := c.cache.Read()
	if !ok {
		return types.NetworkStatus{}, false
	}
	return r.Snapshot.Network(), true
}

// Energy reports what the meter has accumulated this session.
func (c *Controller) Energy() energy.Report {
	return c.meter.Report()
}

// History returns persisted snapshots captured within [start, end).
func (c *Controller) History(ctx context.Context, start, end time.Time) ([]types.DeviceSnapshot, error) {
	return c.db.GetTelemetryHistory(ctx, c.DeviceID(), start, end)
}

// Commands returns persisted command outcomes resolved within [start, end).
func (c *Controller) Commands(ctx context.Context, start, end time.Time) ([]types.CommandOutcome, error) {
	return c.db.GetCommandHistory(ctx, c.DeviceID(), start, end)
}

// Subscribe registers fn to run for every new snapshot, after the
// controller's own bookkeeping. Unlike the poller, subscribing here is safe
// before or after Start.
func (c *Controller) Subscribe(fn func(ctx context.Context, snap types.DeviceSnapshot)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// onSnapshot runs once per new capture: meter it, persist it, publish it,
// then fan out.
func (c *Controller) onSnapshot(ctx context.Context, snap types.DeviceSnapshot) {
	c.meter.Record(snap)

	deviceID := snap.ThingName
	if deviceID == "" {
		deviceID = c.DeviceID()
	}
	if deviceID != "" {
		if err := c.db.InsertTelemetry(ctx, deviceID, snap); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to persist telemetry",
				slog.String("error", err.Error()),
				slog.String("deviceID", deviceID),
			)
		}
		if err := c.pub.PublishState(ctx, deviceID, snap); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish state",
				slog.String("error", err.Error()),
				slog.String("deviceID", deviceID),
			)
		}
	}

	c.mu.RLock()
	subs := make([]func(context.Context, types.DeviceSnapshot), len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()
	for _, fn := range subs {
		fn(ctx, snap)
	}
}

// Close releases the database and broker connections. Call it after the
// polling context is cancelled.
func (c *Controller) Close() error {
	c.pub.Close()
	return c.db.Close()
}
