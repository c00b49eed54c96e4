package types

import (
	"fmt"
	"strings"
	"time"
)

// DeviceSnapshot is one point-in-time capture of the device's reported state.
// Snapshots are never mutated; a newer capture replaces the whole value.
type DeviceSnapshot struct {
	ThingName string `json:"thingName"`

	// Output ports and panel settings, 0=off 1=on.
	ACPortStatus  int `json:"acPortStatus"`
	V12PortStatus int `json:"v12PortStatus"`
	USBPortStatus int `json:"usbPortStatus"`
	Backlight     int `json:"backlight"`

	// Maximum battery charge level in percent. Older firmware omits it, in
	// which case the device charges to full.
	ChargeLimit int `json:"chargeLimit"`

	WattsIn  float64 `json:"wattsIn"`
	AmpsIn   float64 `json:"ampsIn"`
	WattsOut float64 `json:"wattsOut"`
	AmpsOut  float64 `json:"ampsOut"`
	// Lifetime watt-hours delivered. Resets when the unit is factory reset.
	WhOut    float64 `json:"whOut"`
	WhStored float64 `json:"whStored"`
	Volts    float64 `json:"volts"`

	SOCPercent      int `json:"socPercent"`
	IsCharging      int `json:"isCharging"`
	InputDetected   int `json:"inputDetected"`
	TimeToEmptyFull int `json:"timeToEmptyFull"`
	Temperature     int `json:"temperature"`

	WifiStrength int    `json:"wifiStrength"`
	SSID         string `json:"ssid"`
	IPAddr       string `json:"ipAddr"`
	AppOnline    int    `json:"app_online"`

	FirmwareVersion string `json:"firmwareVersion"`
	// Seconds since the device booted.
	Timestamp int64 `json:"timestamp"`

	// When this snapshot was decoded, set by the client, not the device.
	CapturedAt time.Time `json:"capturedAt"`
}

// Network derives the network view of this snapshot.
func (s DeviceSnapshot) Network() NetworkStatus {
	return NetworkStatus{
		SSID:         s.SSID,
		WifiStrength: s.WifiStrength,
		IPAddr:       s.IPAddr,
		Quality:      wifiQuality(s.WifiStrength),
	}
}

// DeviceInfo is the device's identity as reported by its sysinfo endpoint.
type DeviceInfo struct {
	Name            string `json:"name"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmwareVersion"`
	MacAddress      string `json:"macAddress"`
	Platform        string `json:"platform"`
	HostName        string `json:"hostName"`
}

// NetworkStatus summarizes the device's Wi-Fi link.
type NetworkStatus struct {
	SSID         string `json:"ssid"`
	WifiStrength int    `json:"wifiStrength"`
	IPAddr       string `json:"ipAddr"`
	Quality      string `json:"quality"`
}

func wifiQuality(rssi int) string {
	switch {
	case rssi >= -50:
		return "excellent"
	case rssi >= -60:
		return "good"
	case rssi >= -70:
		return "fair"
	default:
		return "weak"
	}
}

// ParseToggle normalizes the accepted spellings for a port toggle (1/0,
// "on"/"off", "true"/"false", "yes"/"no", "y"/"n", bools) to the device's
// 0/1 representation.
func ParseToggle(v any) (int, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case int:
		if t == 0 || t == 1 {
			return t, nil
		}
	case float64:
		// JSON numbers decode as float64
		if t == 0 || t == 1 {
			return int(t), nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "on", "true", "yes", "y":
			return 1, nil
		case "0", "off", "false", "no", "n":
			return 0, nil
		}
	}
	return 0, fmt.Errorf("not a valid toggle value: %v", v)
}
