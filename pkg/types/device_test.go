package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToggle(t *testing.T) {
	t.Run("on values", func(t *testing.T) {
		for _, v := range []any{1, 1.0, true, "1", "on", "ON", "true", "yes", "y", " On "} {
			got, err := ParseToggle(v)
			require.NoError(t, err, "value %v should parse", v)
			assert.Equal(t, 1, got, "value %v should be on", v)
		}
	})

	t.Run("off values", func(t *testing.T) {
		for _, v := range []any{0, 0.0, false, "0", "off", "false", "NO", "n"} {
			got, err := ParseToggle(v)
			require.NoError(t, err, "value %v should parse", v)
			assert.Equal(t, 0, got, "value %v should be off", v)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		for _, v := range []any{2, -1, 0.5, "maybe", "", nil, []string{"on"}} {
			_, err := ParseToggle(v)
			assert.Error(t, err, "value %v should be rejected", v)
		}
	})
}

func TestNetwork(t *testing.T) {
	snap := DeviceSnapshot{
		SSID:         "basecamp",
		WifiStrength: -48,
		IPAddr:       "192.168.1.42",
	}
	net := snap.Network()
	assert.Equal(t, "basecamp", net.SSID)
	assert.Equal(t, "192.168.1.42", net.IPAddr)
	assert.Equal(t, "excellent", net.Quality)

	t.Run("quality buckets", func(t *testing.T) {
		cases := map[int]string{
			-30: "excellent",
			-50: "excellent",
			-51: "good",
			-60: "good",
			-65: "fair",
			-70: "fair",
			-71: "weak",
			-90: "weak",
		}
		for rssi, want := range cases {
			got := DeviceSnapshot{WifiStrength: rssi}.Network().Quality
			assert.Equal(t, want, got, "rssi %d", rssi)
		}
	})
}
