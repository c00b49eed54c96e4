package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// memoryMaxRecords bounds each per-device history so an always-on daemon
// cannot grow without limit.
const memoryMaxRecords = 10000

// Memory keeps history in process. History is lost on restart.
type Memory struct {
	mu        sync.Mutex
	telemetry map[string][]types.DeviceSnapshot
	commands  map[string][]types.CommandOutcome
	max       int
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{
		telemetry: make(map[string][]types.DeviceSnapshot),
		commands:  make(map[string][]types.CommandOutcome),
		max:       memoryMaxRecords,
	}
}

// InsertTelemetry appends snap to the device's history, keeping it ordered
// by capture time.
func (m *Memory) InsertTelemetry(ctx context.Context, deviceID string, snap types.DeviceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := append(m.telemetry[deviceID], snap)
	if n := len(recs); n > 1 && recs[n-1].CapturedAt.Before(recs[n-2].CapturedAt) {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].CapturedAt.Before(recs[j].CapturedAt)
		})
	}
	if len(recs) > m.max {
		recs = recs[len(recs)-m.max:]
	}
	m.telemetry[deviceID] = recs
	return nil
}

// GetTelemetryHistory returns snapshots captured within [start, end),
// oldest first.
func (m *Memory) GetTelemetryHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.DeviceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.DeviceSnapshot
	for _, snap := range m.telemetry[deviceID] {
		if snap.CapturedAt.Before(start) || !snap.CapturedAt.Before(end) {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// GetLatestTelemetryTime returns the newest capture time, zero when the
// device has no history.
func (m *Memory) GetLatestTelemetryTime(ctx context.Context, deviceID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.telemetry[deviceID]
	if len(recs) == 0 {
		return time.Time{}, nil
	}
	return recs[len(recs)-1].CapturedAt, nil
}

// InsertCommand appends outcome to the device's command history.
func (m *Memory) InsertCommand(ctx context.Context, deviceID string, outcome types.CommandOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := append(m.commands[deviceID], outcome)
	if n := len(recs); n > 1 && recs[n-1].ResolvedAt.Before(recs[n-2].ResolvedAt) {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].ResolvedAt.Before(recs[j].ResolvedAt)
		})
	}
	if len(recs) > m.max {
		recs = recs[len(recs)-m.max:]
	}
	m.commands[deviceID] = recs
	return nil
}

// GetCommandHistory returns outcomes resolved within [start, end), oldest
// first.
func (m *Memory) GetCommandHistory(ctx context.Context, deviceID string, start, end time.Time) ([]types.CommandOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.CommandOutcome
	for _, rec := range m.commands[deviceID] {
		if rec.ResolvedAt.Before(start) || !rec.ResolvedAt.Before(end) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
