package yeti

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// stateWire is the device's /state payload. The decoder is strict: fields
// not listed here reject the whole payload, and pointer fields are required.
type stateWire struct {
	ThingName string `json:"thingName"`

	ACPortStatus  *int `json:"acPortStatus"`
	V12PortStatus *int `json:"v12PortStatus"`
	USBPortStatus *int `json:"usbPortStatus"`
	Backlight     int  `json:"backlight"`
	ChargeLimit   *int `json:"chargeLimit"`

	WattsIn  *float64 `json:"wattsIn"`
	AmpsIn   float64  `json:"ampsIn"`
	WattsOut *float64 `json:"wattsOut"`
	AmpsOut  float64  `json:"ampsOut"`
	WhOut    float64  `json:"whOut"`
	WhStored float64  `json:"whStored"`
	Volts    float64  `json:"volts"`

	SOCPercent      *int `json:"socPercent"`
	IsCharging      int  `json:"isCharging"`
	InputDetected   int  `json:"inputDetected"`
	TimeToEmptyFull int  `json:"timeToEmptyFull"`
	Temperature     int  `json:"temperature"`

	WifiStrength int    `json:"wifiStrength"`
	SSID         string `json:"ssid"`
	IPAddr       string `json:"ipAddr"`
	AppOnline    int    `json:"app_online"`

	FirmwareVersion string `json:"firmwareVersion"`
	Timestamp       int64  `json:"timestamp"`
}

func (w *stateWire) validate() error {
	required := map[string]bool{
		"acPortStatus":  w.ACPortStatus != nil,
		"v12PortStatus": w.V12PortStatus != nil,
		"usbPortStatus": w.USBPortStatus != nil,
		"socPercent":    w.SOCPercent != nil,
		"wattsIn":       w.WattsIn != nil,
		"wattsOut":      w.WattsOut != nil,
	}
	for field, present := range required {
		if !present {
			return fmt.Errorf("missing required field %s", field)
		}
	}

	if *w.SOCPercent < 0 || *w.SOCPercent > 100 {
		return fmt.Errorf("socPercent out of range: %d", *w.SOCPercent)
	}
	toggles := map[string]int{
		"acPortStatus":  *w.ACPortStatus,
		"v12PortStatus": *w.V12PortStatus,
		"usbPortStatus": *w.USBPortStatus,
		"backlight":     w.Backlight,
	}
	for field, v := range toggles {
		if v != 0 && v != 1 {
			return fmt.Errorf("%s must be 0 or 1, got %d", field, v)
		}
	}
	if w.ChargeLimit != nil && (*w.ChargeLimit < 0 || *w.ChargeLimit > 100) {
		return fmt.Errorf("chargeLimit out of range: %d", *w.ChargeLimit)
	}
	nonNegative := map[string]float64{
		"wattsIn":  *w.WattsIn,
		"wattsOut": *w.WattsOut,
		"ampsIn":   w.AmpsIn,
		"ampsOut":  w.AmpsOut,
		"whOut":    w.WhOut,
		"whStored": w.WhStored,
		"volts":    w.Volts,
	}
	for field, v := range nonNegative {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", field, v)
		}
	}
	return nil
}

func (w *stateWire) snapshot(at time.Time) types.DeviceSnapshot {
	// older firmware omits chargeLimit and always charges to full
	chargeLimit := 100
	if w.ChargeLimit != nil {
		chargeLimit = *w.ChargeLimit
	}
	return types.DeviceSnapshot{
		ThingName:       w.ThingName,
		ACPortStatus:    *w.ACPortStatus,
		V12PortStatus:   *w.V12PortStatus,
		USBPortStatus:   *w.USBPortStatus,
		Backlight:       w.Backlight,
		ChargeLimit:     chargeLimit,
		WattsIn:         *w.WattsIn,
		AmpsIn:          w.AmpsIn,
		WattsOut:        *w.WattsOut,
		AmpsOut:         w.AmpsOut,
		WhOut:           w.WhOut,
		WhStored:        w.WhStored,
		Volts:           w.Volts,
		SOCPercent:      *w.SOCPercent,
		IsCharging:      w.IsCharging,
		InputDetected:   w.InputDetected,
		TimeToEmptyFull: w.TimeToEmptyFull,
		Temperature:     w.Temperature,
		WifiStrength:    w.WifiStrength,
		SSID:            w.SSID,
		IPAddr:          w.IPAddr,
		AppOnline:       w.AppOnline,
		FirmwareVersion: w.FirmwareVersion,
		Timestamp:       w.Timestamp,
		CapturedAt:      at,
	}
}

// decodeSnapshot parses and validates a /state body. Anything the schema
// doesn't allow resolves to a BadPayload TransportError.
func decodeSnapshot(body []byte, at time.Time) (types.DeviceSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var w stateWire
	if err := dec.Decode(&w); err != nil {
		return types.DeviceSnapshot{}, &TransportError{Kind: KindBadPayload, err: err}
	}
	if err := w.validate(); err != nil {
		return types.DeviceSnapshot{}, &TransportError{Kind: KindBadPayload, err: err}
	}
	return w.snapshot(at), nil
}

// sysinfoWire is the device's /sysinfo payload.
type sysinfoWire struct {
	Name            *string `json:"name"`
	Model           *string `json:"model"`
	FirmwareVersion string  `json:"firmwareVersion"`
	MacAddress      string  `json:"macAddress"`
	Platform        string  `json:"platform"`
	HostName        string  `json:"hostName"`
}

func decodeDeviceInfo(body []byte) (types.DeviceInfo, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var w sysinfoWire
	if err := dec.Decode(&w); err != nil {
		return types.DeviceInfo{}, &TransportError{Kind: KindBadPayload, err: err}
	}
	if w.Name == nil || w.Model == nil {
		return types.DeviceInfo{}, &TransportError{Kind: KindBadPayload, err: fmt.Errorf("missing required field name or model")}
	}
	return types.DeviceInfo{
		Name:            *w.Name,
		Model:           *w.Model,
		FirmwareVersion: w.FirmwareVersion,
		MacAddress:      w.MacAddress,
		Platform:        w.Platform,
		HostName:        w.HostName,
	}, nil
}
