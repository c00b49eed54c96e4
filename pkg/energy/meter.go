// Package energy tracks cumulative output energy and derives power figures
// from successive device snapshots.
//
// The device reports whOut as a lifetime counter that resets on reboot. The
// meter turns it into a monotonic per-session total by accumulating deltas
// and treating a backwards step as a reset. All energy figures are in
// watt-hours.
package energy

import (
	"sync"
	"time"

	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// DefaultMaxSamples bounds the retained sample history.
const DefaultMaxSamples = 1000

// Sample is one recorded observation.
type Sample struct {
	At         time.Time `json:"at"`
	WhOut      float64   `json:"whOut"`
	DeltaWh    float64   `json:"deltaWh"`
	TotalWh    float64   `json:"totalWh"`
	WattsOut   float64   `json:"wattsOut"`
	WhStored   float64   `json:"whStored"`
	SOCPercent int       `json:"socPercent"`
}

// Report summarizes the session so far.
type Report struct {
	TotalWhOut    float64   `json:"totalWhOut"`
	AveragePowerW float64   `json:"averagePowerW"`
	WattsOut      float64   `json:"wattsOut"`
	WhStored      float64   `json:"whStored"`
	CapacityWh    float64   `json:"capacityWh"`
	SOCPercent    int       `json:"socPercent"`
	Samples       int       `json:"samples"`
	Since         time.Time `json:"since,omitzero"`
	LastAt        time.Time `json:"lastAt,omitzero"`
}

// Meter accumulates output energy across snapshots. Safe for concurrent
// use.
type Meter struct {
	mu         sync.Mutex
	capacityWh float64
	storedWh   float64

	started   bool
	prevWhOut float64
	totalWh   float64

	samples    []Sample
	maxSamples int
}

// NewMeter returns an empty meter retaining up to DefaultMaxSamples
// observations.
func NewMeter() *Meter {
	return &Meter{maxSamples: DefaultMaxSamples}
}

// SetCapacity sets the battery's nameplate capacity in Wh, clamping stored
// energy down to it. Negative values mean unknown and clear the capacity.
func (m *Meter) SetCapacity(wh float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wh < 0 {
		wh = 0
	}
	m.capacityWh = wh
	if m.capacityWh > 0 && m.storedWh > m.capacityWh {
		m.storedWh = m.capacityWh
	}
}

// CapacityWh returns the configured capacity, zero when unknown.
func (m *Meter) CapacityWh() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacityWh
}

// StateOfCharge returns stored energy as a fraction of capacity, zero when
// the capacity is unknown.
func (m *Meter) StateOfCharge() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capacityWh == 0 {
		return 0
	}
	return m.storedWh / m.capacityWh
}

// Record folds snap into the running totals and returns the stored sample.
// The first observation only establishes the counter baseline; a whOut
// counter below the previous reading is a device reset and contributes
// nothing.
func (m *Meter) Record(snap types.DeviceSnapshot) Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := snap.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}

	watts := snap.WattsOut
	if watts == 0 && snap.AmpsOut != 0 {
		watts = snap.AmpsOut * snap.Volts
	}

	var delta float64
	if m.started {
		delta = snap.WhOut - m.prevWhOut
		if delta < 0 {
			delta = 0
		}
		m.totalWh += delta
	} else {
		m.started = true
	}
	m.prevWhOut = snap.WhOut

	m.storedWh = snap.WhStored
	if m.capacityWh > 0 && m.storedWh > m.capacityWh {
		m.storedWh = m.capacityWh
	}

	s := Sample{
		At:         at,
		WhOut:      snap.WhOut,
		DeltaWh:    delta,
		TotalWh:    m.totalWh,
		WattsOut:   watts,
		WhStored:   m.storedWh,
		SOCPercent: snap.SOCPercent,
	}
	m.samples = append(m.samples, s)
	if len(m.samples) > m.maxSamples {
		m.samples = m.samples[1:]
	}
	return s
}

// TotalWhOut returns the energy sent out since the meter started.
func (m *Meter) TotalWhOut() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalWh
}

// AveragePowerW returns the mean output power across the retained history,
// derived from the energy counter rather than instantaneous wattage. Zero
// until two samples span a positive interval.
func (m *Meter) AveragePowerW() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.averagePowerLocked()
}

func (m *Meter) averagePowerLocked() float64 {
	if len(m.samples) < 2 {
		return 0
	}
	first := m.samples[0]
	last := m.samples[len(m.samples)-1]
	dt := last.At.Sub(first.At).Seconds()
	if dt <= 0 {
		return 0
	}
	return (last.TotalWh - first.TotalWh) / dt * 3600
}

// History returns a copy of the retained samples, oldest first.
func (m *Meter) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Report returns the session summary.
func (m *Meter) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := Report{
		TotalWhOut:    m.totalWh,
		AveragePowerW: m.averagePowerLocked(),
		CapacityWh:    m.capacityWh,
		WhStored:      m.storedWh,
		Samples:       len(m.samples),
	}
	if n := len(m.samples); n > 0 {
		last := m.samples[n-1]
		r.WattsOut = last.WattsOut
		r.SOCPercent = last.SOCPercent
		r.Since = m.samples[0].At
		r.LastAt = last.At
	}
	return r
}
