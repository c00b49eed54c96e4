package yeti

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// Mock simulates a device for development without hardware. It mimics the
// firmware's asynchronous settings application with a configurable delay and
// drifts its energy counters between reads.
type Mock struct {
	mu         sync.Mutex
	state      types.DeviceSnapshot
	info       types.DeviceInfo
	baseURL    string
	applyDelay time.Duration
	pending    []mockChange
	bootAt     time.Time
	lastRead   time.Time
}

type mockChange struct {
	field   string
	value   int
	applyAt time.Time
}

// NewMock returns a simulated device that looks like a lightly loaded
// Yeti 1400.
func NewMock() *Mock {
	now := time.Now()
	return &Mock{
		state: types.DeviceSnapshot{
			ThingName:       "yeti-mock-0C1A2B",
			ACPortStatus:    0,
			V12PortStatus:   0,
			USBPortStatus:   1,
			Backlight:       1,
			ChargeLimit:     100,
			WattsOut:        55.5,
			AmpsOut:         4.6,
			WhOut:           1234,
			WhStored:        1050,
			Volts:           12.1,
			SOCPercent:      74,
			TimeToEmptyFull: 1135,
			Temperature:     21,
			WifiStrength:    -55,
			SSID:            "basecamp",
			IPAddr:          "192.168.1.66",
			AppOnline:       1,
			FirmwareVersion: "1.5.7",
		},
		info: types.DeviceInfo{
			Name:            "yeti-mock-0C1A2B",
			Model:           "Yeti 1400",
			FirmwareVersion: "1.5.7",
			MacAddress:      "0C:1A:2B:3C:4D:5E",
			Platform:        "esp32",
			HostName:        "yeti-mock",
		},
		baseURL:  "http://yeti-mock.local",
		bootAt:   now,
		lastRead: now,
	}
}

// SetApplyDelay makes subsequent SetState calls take effect only after d has
// passed, like firmware that acknowledges a change before applying it.
func (m *Mock) SetApplyDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyDelay = d
}

// GetState returns the simulated state, advancing the energy counters by the
// time elapsed since the previous read.
func (m *Mock) GetState(ctx context.Context) (types.DeviceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.applyPending(now)

	hours := now.Sub(m.lastRead).Hours()
	m.lastRead = now

	capacity := CapacityWh(m.info.Model)
	drained := m.state.WattsOut * hours
	m.state.WhOut += drained
	m.state.WhStored = math.Max(0, m.state.WhStored-drained)
	if m.state.InputDetected == 1 {
		m.state.WhStored = math.Min(capacity, m.state.WhStored+m.state.WattsIn*hours)
	}
	if capacity > 0 {
		m.state.SOCPercent = int(math.Round(m.state.WhStored / capacity * 100))
	}
	m.state.Timestamp = int64(now.Sub(m.bootAt).Seconds())
	m.state.CapturedAt = now

	return m.state, nil
}

// SetState records the change and acknowledges with the current (possibly
// not yet updated) state. With no apply delay the change lands immediately.
func (m *Mock) SetState(ctx context.Context, field string, value int) (types.DeviceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.pending = append(m.pending, mockChange{
		field:   field,
		value:   value,
		applyAt: now.Add(m.applyDelay),
	})
	m.applyPending(now)

	echo := m.state
	echo.CapturedAt = now
	return echo, nil
}

// applyPending applies every recorded change that has come due. Must be
// called with m.mu held.
func (m *Mock) applyPending(now time.Time) {
	remaining := m.pending[:0]
	for _, ch := range m.pending {
		if ch.applyAt.After(now) {
			remaining = append(remaining, ch)
			continue
		}
		switch ch.field {
		case types.FieldACPort:
			m.state.ACPortStatus = ch.value
		case types.FieldV12Port:
			m.state.V12PortStatus = ch.value
		case types.FieldUSBPort:
			m.state.USBPortStatus = ch.value
		case types.FieldBacklight:
			m.state.Backlight = ch.value
		case types.FieldChargeLimit:
			m.state.ChargeLimit = ch.value
		}
	}
	m.pending = remaining
}

// GetDeviceInfo returns the simulated identity.
func (m *Mock) GetDeviceInfo(ctx context.Context) (types.DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, nil
}

// BaseURL returns the pretend endpoint.
func (m *Mock) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseURL
}

// SetBaseURL records the endpoint without connecting anywhere.
func (m *Mock) SetBaseURL(u string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseURL = u
	return nil
}
