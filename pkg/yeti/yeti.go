// Package yeti speaks a Goal-Zero Yeti power station's local REST API:
// fetching state and identity, submitting settings changes, and classifying
// transport failures for the layers above.
package yeti

import (
	"context"

	"github.com/levenlabs/go-lflag"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// Device is a power station reachable over its local REST API.
type Device interface {
	// GetState returns the device's current state.
	GetState(ctx context.Context) (types.DeviceSnapshot, error)

	// SetState submits a single settings change and returns the state the
	// device echoed back. The echo acknowledges receipt; the change may still
	// be applied asynchronously.
	SetState(ctx context.Context, field string, value int) (types.DeviceSnapshot, error)

	// GetDeviceInfo returns the device's identity.
	GetDeviceInfo(ctx context.Context) (types.DeviceInfo, error)

	// BaseURL returns the endpoint in use. SetBaseURL repoints the device,
	// typically after discovery.
	BaseURL() string
	SetBaseURL(u string) error
}

var (
	_ Device = (*Client)(nil)
	_ Device = (*Mock)(nil)
)

// Configured returns the Device selected by flags, defaulting to a real
// device client.
func Configured() Device {
	mock := lflag.Bool("device-mock", false, "Use a simulated device instead of real hardware")

	c := configuredClient()

	var p struct{ Device }
	lflag.Do(func() {
		if *mock {
			p.Device = NewMock()
			return
		}
		p.Device = c
	})
	return &p
}
