// Package dispatch turns settings commands into verified device changes.
//
// A command names one controllable field and a target value. Dispatch
// validates it, short-circuits when the device already reports the value,
// submits it, and then polls the device a bounded number of times until the
// change shows up. Every path ends in a terminal CommandOutcome; Dispatch
// never returns an error.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/cache"
	"github.com/yetiwatch/yetiwatch/pkg/log"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

const (
	// DefaultVerifyPolls bounds how many times an unconfirmed command is
	// polled for before timing out.
	DefaultVerifyPolls = 3
	// DefaultVerifyInterval is the wait before each verification poll.
	DefaultVerifyInterval = 2 * time.Second
)

// Submitter writes one settings field to the device.
type Submitter interface {
	SetState(ctx context.Context, field string, value int) (types.DeviceSnapshot, error)
}

// Refresher reads fresh device state on demand. The poller satisfies this,
// so verification reads reach its subscribers too.
type Refresher interface {
	ForceRefresh(ctx context.Context) (types.DeviceSnapshot, error)
}

// StateReader returns the retained snapshot without touching the network.
type StateReader interface {
	Read() (cache.Reading, bool)
}

type field struct {
	validate func(v int) error
	current  func(snap types.DeviceSnapshot) int
}

var fields = map[string]field{
	types.FieldACPort: {
		validate: validateToggle,
		current:  func(s types.DeviceSnapshot) int { return s.ACPortStatus },
	},
	types.FieldV12Port: {
		validate: validateToggle,
		current:  func(s types.DeviceSnapshot) int { return s.V12PortStatus },
	},
	types.FieldUSBPort: {
		validate: validateToggle,
		current:  func(s types.DeviceSnapshot) int { return s.USBPortStatus },
	},
	types.FieldBacklight: {
		validate: validateToggle,
		current:  func(s types.DeviceSnapshot) int { return s.Backlight },
	},
	types.FieldChargeLimit: {
		validate: func(v int) error {
			if v < 5 || v > 100 {
				return fmt.Errorf("charge limit must be between 5 and 100, got %d", v)
			}
			return nil
		},
		current: func(s types.DeviceSnapshot) int { return s.ChargeLimit },
	},
}

func validateToggle(v int) error {
	if v != 0 && v != 1 {
		return fmt.Errorf("toggle value must be 0 or 1, got %d", v)
	}
	return nil
}

// Fields returns the names of all controllable fields, sorted.
func Fields() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatcher resolves commands against a single device.
type Dispatcher struct {
	dev     Submitter
	reader  StateReader
	refresh Refresher

	verifyPolls    int
	verifyInterval time.Duration
}

// New returns a Dispatcher with explicit verification settings. Zero or
// negative settings fall back to the defaults.
func New(dev Submitter, reader StateReader, refresh Refresher, polls int, interval time.Duration) *Dispatcher {
	if polls <= 0 {
		polls = DefaultVerifyPolls
	}
	if interval <= 0 {
		interval = DefaultVerifyInterval
	}
	return &Dispatcher{
		dev:            dev,
		reader:         reader,
		refresh:        refresh,
		verifyPolls:    polls,
		verifyInterval: interval,
	}
}

// Configured returns a Dispatcher with verification settings taken from
// flags.
func Configured(dev Submitter, reader StateReader, refresh Refresher) *Dispatcher {
	polls := lflag.Int("verify-polls", DefaultVerifyPolls, "Device polls before an unconfirmed command times out")
	interval := lflag.Duration("verify-interval", DefaultVerifyInterval, "Wait before each command verification poll")

	d := &Dispatcher{dev: dev, reader: reader, refresh: refresh}
	lflag.Do(func() {
		d.verifyPolls = *polls
		d.verifyInterval = *interval
		if d.verifyPolls <= 0 {
			d.verifyPolls = DefaultVerifyPolls
		}
		if d.verifyInterval <= 0 {
			d.verifyInterval = DefaultVerifyInterval
		}
	})
	return d
}

// Dispatch runs req to a terminal outcome.
//
// Invalid requests resolve Rejected without any device traffic. A request
// matching the device's current value resolves Applied without submitting.
// Submit failures resolve Rejected; cancellation anywhere resolves TimedOut,
// as does exhausting the verification polls.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.CommandRequest) types.CommandOutcome {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	out := types.CommandOutcome{
		ID:    req.ID,
		Field: req.Field,
		Value: req.Value,
	}

	f, ok := fields[req.Field]
	if !ok {
		out.Status = types.OutcomeRejected
		out.Reason = types.RejectInvalidValue
		out.Detail = fmt.Sprintf("unknown field %q", req.Field)
		return d.resolved(ctx, out)
	}
	if err := f.validate(req.Value); err != nil {
		out.Status = types.OutcomeRejected
		out.Reason = types.RejectInvalidValue
		out.Detail = err.Error()
		return d.resolved(ctx, out)
	}

	// A command for the value the device already reports is a no-op. The
	// check needs current state, so force a read when the cache has nothing
	// or only a stale snapshot. A failed read is not fatal here; the submit
	// below still gets its chance.
	if snap, err := d.freshSnapshot(ctx); err == nil && f.current(snap) == req.Value {
		out.Status = types.OutcomeApplied
		return d.resolved(ctx, out)
	}
	if ctx.Err() != nil {
		out.Status = types.OutcomeTimedOut
		return d.resolved(ctx, out)
	}

	if _, err := d.dev.SetState(ctx, req.Field, req.Value); err != nil {
		if ctx.Err() != nil {
			out.Status = types.OutcomeTimedOut
			return d.resolved(ctx, out)
		}
		out.Status = types.OutcomeRejected
		out.Reason = types.RejectTransportFailure
		out.Detail = err.Error()
		return d.resolved(ctx, out)
	}

	// The echo above only acknowledges receipt. Poll until the device
	// reports the new value or the budget runs out.
	for i := 0; i < d.verifyPolls; i++ {
		select {
		case <-ctx.Done():
			out.Status = types.OutcomeTimedOut
			return d.resolved(ctx, out)
		case <-time.After(d.verifyInterval):
		}
		out.Polls = i + 1
		snap, err := d.refresh.ForceRefresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				out.Status = types.OutcomeTimedOut
				return d.resolved(ctx, out)
			}
			continue
		}
		if f.current(snap) == req.Value {
			out.Status = types.OutcomeApplied
			return d.resolved(ctx, out)
		}
	}
	out.Status = types.OutcomeTimedOut
	return d.resolved(ctx, out)
}

func (d *Dispatcher) freshSnapshot(ctx context.Context) (types.DeviceSnapshot, error) {
	if r, ok := d.reader.Read(); ok && !r.Stale {
		return r.Snapshot, nil
	}
	return d.refresh.ForceRefresh(ctx)
}

func (d *Dispatcher) resolved(ctx context.Context, out types.CommandOutcome) types.CommandOutcome {
	out.ResolvedAt = time.Now()
	log.Ctx(ctx).InfoContext(ctx, "command resolved",
		slog.String("id", out.ID),
		slog.String("field", out.Field),
		slog.Int("value", out.Value),
		slog.String("status", string(out.Status)),
		slog.String("reason", string(out.Reason)),
		slog.Int("polls", out.Polls),
	)
	return out
}
