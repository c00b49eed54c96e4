package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/yetiwatch/yetiwatch/pkg/discovery"
	"github.com/yetiwatch/yetiwatch/pkg/types"
)

// Color palette for terminal output
var (
	successColor = lipgloss.Color("#43BF6D")
	errorColor   = lipgloss.Color("#FF5555")
	warningColor = lipgloss.Color("#FFA500")
	mutedColor   = lipgloss.Color("#626262")
)

// Shared styles for command output
var (
	// titleStyle is for section titles (e.g., "Battery")
	titleStyle = lipgloss.NewStyle().Bold(true)

	// labelStyle is for detail keys (e.g., "State of charge")
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(18)

	onStyle   = lipgloss.NewStyle().Foreground(successColor)
	offStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	warnStyle = lipgloss.NewStyle().Foreground(warningColor)
	failStyle = lipgloss.NewStyle().Foreground(errorColor)
)

func okMark() string   { return onStyle.Render("✓") }
func failMark() string { return failStyle.Render("✗") }

func row(label, value string) string {
	return "  " + labelStyle.Render(label) + value
}

func onOff(v int) string {
	if v == 1 {
		return onStyle.Render("on")
	}
	return offStyle.Render("off")
}

func styledQuality(quality string) string {
	switch quality {
	case "excellent", "good":
		return onStyle.Render(quality)
	case "fair":
		return warnStyle.Render(quality)
	default:
		return failStyle.Render(quality)
	}
}

func renderSnapshot(snap types.DeviceSnapshot) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(snap.ThingName) + "\n\n")

	b.WriteString(titleStyle.Render("Battery") + "\n")
	soc := fmt.Sprintf("%d%% (%.0f Wh stored)", snap.SOCPercent, snap.WhStored)
	if snap.SOCPercent <= 20 {
		soc = failStyle.Render(soc)
	}
	b.WriteString(row("State of charge", soc) + "\n")
	b.WriteString(row("Battery voltage", fmt.Sprintf("%.1f V", snap.Volts)) + "\n")
	charging := "no"
	if snap.IsCharging == 1 {
		charging = onStyle.Render("yes")
	}
	b.WriteString(row("Charging", charging) + "\n")
	if snap.ChargeLimit > 0 {
		b.WriteString(row("Charge limit", fmt.Sprintf("%d%%", snap.ChargeLimit)) + "\n")
	}
	if snap.TimeToEmptyFull > 0 {
		label := "Time to empty"
		if snap.IsCharging == 1 {
			label = "Time to full"
		}
		b.WriteString(row(label, (time.Duration(snap.TimeToEmptyFull) * time.Minute).String()) + "\n")
	}

	b.WriteString("\n" + titleStyle.Render("Ports") + "\n")
	b.WriteString(row("AC inverter", onOff(snap.ACPortStatus)) + "\n")
	b.WriteString(row("12V output", onOff(snap.V12PortStatus)) + "\n")
	b.WriteString(row("USB outputs", onOff(snap.USBPortStatus)) + "\n")
	b.WriteString(row("Backlight", onOff(snap.Backlight)) + "\n")

	b.WriteString("\n" + titleStyle.Render("Power") + "\n")
	b.WriteString(row("Input", fmt.Sprintf("%.1f W (%.1f A)", snap.WattsIn, snap.AmpsIn)) + "\n")
	b.WriteString(row("Output", fmt.Sprintf("%.1f W (%.1f A)", snap.WattsOut, snap.AmpsOut)) + "\n")
	b.WriteString(row("Lifetime output", fmt.Sprintf("%.0f Wh", snap.WhOut)) + "\n")
	b.WriteString(row("Temperature", fmt.Sprintf("%d C", snap.Temperature)) + "\n")

	net := snap.Network()
	b.WriteString("\n" + titleStyle.Render("Network") + "\n")
	b.WriteString(row("Wi-Fi", fmt.Sprintf("%s (%d dBm, %s)", net.SSID, net.WifiStrength, styledQuality(net.Quality))) + "\n")
	b.WriteString(row("IP address", net.IPAddr) + "\n")

	b.WriteString("\n" + titleStyle.Render("Device") + "\n")
	b.WriteString(row("Firmware", snap.FirmwareVersion) + "\n")
	b.WriteString(row("Uptime", (time.Duration(snap.Timestamp) * time.Second).String()))

	return b.String()
}

func renderInfo(info types.DeviceInfo, capacityWh float64) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(info.Name) + "\n")
	b.WriteString(row("Model", info.Model) + "\n")
	if capacityWh > 0 {
		b.WriteString(row("Capacity", fmt.Sprintf("%.0f Wh", capacityWh)) + "\n")
	}
	b.WriteString(row("Firmware", info.FirmwareVersion) + "\n")
	b.WriteString(row("MAC address", info.MacAddress) + "\n")
	if info.Platform != "" {
		b.WriteString(row("Platform", info.Platform) + "\n")
	}
	if info.HostName != "" {
		b.WriteString(row("Hostname", info.HostName) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderDevices(devices []discovery.Device) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Found %d device(s):\n\n", len(devices)))
	for i, d := range devices {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, titleStyle.Render(d.Name)))
		b.WriteString(row("Hostname", d.Hostname) + "\n")
		b.WriteString(row("Address", fmt.Sprintf("%s:%d", d.IP, d.Port)) + "\n")
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderWatchFooter(addr string, interval time.Duration) string {
	return offStyle.Render(fmt.Sprintf("%s | every %s | Ctrl-C to stop | updated %s",
		addr, interval, time.Now().Format("15:04:05")))
}
