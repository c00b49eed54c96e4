package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yetiwatch/yetiwatch/pkg/discovery"
	"github.com/yetiwatch/yetiwatch/pkg/types"
	"github.com/yetiwatch/yetiwatch/pkg/yeti"
)

// Command flags
var (
	deviceAddr    string
	deviceTimeout time.Duration
	outputFormat  string
	scanTimeout   int
	watchInterval time.Duration
	noVerify      bool
	verifyPolls   int
)

func init() {
	// Common flags for device commands (persistent on root)
	rootCmd.PersistentFlags().StringVar(&deviceAddr, "device", "", "Device base URL (default $YETI_DEVICE or "+yeti.DefaultBaseURL+")")
	rootCmd.PersistentFlags().DurationVar(&deviceTimeout, "timeout", yeti.DefaultTimeout, "Timeout for a single device request")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "detailed", "Output format (detailed, json)")

	// Add subcommands directly to root
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(discoverCmd)
}

// newClient builds a device client from the --device flag, falling back to
// the YETI_DEVICE environment variable and then the device's mDNS name.
func newClient() (*yeti.Client, error) {
	addr := deviceAddr
	if addr == "" {
		addr = os.Getenv("YETI_DEVICE")
	}
	if addr == "" {
		addr = yeti.DefaultBaseURL
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return yeti.NewClient(addr, deviceTimeout)
}

// statusCmd prints the device's current state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the device's current state",
	Long: `Fetch and display the device's current state.

Shows battery level, port states, power flow, and the Wi-Fi link.`,
	Example: `  # Status of the device at its default name
  yetictl status

  # Status of a specific device
  yetictl status --device 192.168.4.16

  # JSON output for scripting
  yetictl status --format json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	snap, err := client.GetState(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get state from %s: %w", client.BaseURL(), err)
	}

	if outputFormat == "json" {
		return printJSON(snap)
	}
	fmt.Println(renderSnapshot(snap))
	return nil
}

// infoCmd prints the device's identity
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device identity",
	Long:  `Fetch the device's name, model, firmware version, and battery capacity.`,
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	info, err := client.GetDeviceInfo(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get device info from %s: %w", client.BaseURL(), err)
	}

	if outputFormat == "json" {
		return printJSON(info)
	}
	fmt.Println(renderInfo(info, yeti.CapacityWh(info.Model)))
	return nil
}

// setCmd changes a single device setting
var setCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Change a device setting",
	Long: `Submit a single settings change to the device.

Fields:
  ac           AC inverter port (on/off)
  12v          12V port (on/off)
  usb          USB ports (on/off)
  backlight    Display backlight (on/off)
  chargeLimit  Maximum charge level in percent

The device acknowledges a change before applying it, so by default the
state is polled afterwards until the new value is visible.`,
	Example: `  # Turn the AC inverter on
  yetictl set ac on

  # Cap charging at 80%
  yetictl set chargeLimit 80 --device 192.168.4.16

  # Fire and forget
  yetictl set usb off --no-verify`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

func init() {
	setCmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip state verification after the change")
	setCmd.Flags().IntVar(&verifyPolls, "verify-polls", 3, "Number of verification polls")
}

func runSet(cmd *cobra.Command, args []string) error {
	field, err := resolveField(args[0])
	if err != nil {
		return err
	}
	value, err := parseFieldValue(field, args[1])
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	fmt.Printf("Setting %s = %d on %s...\n", field, value, client.BaseURL())

	echo, err := client.SetState(ctx, field, value)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	if noVerify {
		fmt.Printf("%s Change submitted (not verified), device echoed %s = %d\n",
			okMark(), field, fieldValue(echo, field))
		return nil
	}

	// The echo acknowledges receipt; poll until the change is visible.
	for attempt := 1; attempt <= verifyPolls; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}

		snap, err := client.GetState(ctx)
		if err != nil {
			continue
		}
		if fieldValue(snap, field) == value {
			fmt.Printf("%s Change applied and verified (%d poll(s))\n", okMark(), attempt)
			return nil
		}
	}

	fmt.Printf("%s Device did not confirm %s = %d\n", failMark(), field, value)
	return fmt.Errorf("verification failed after %d polls", verifyPolls)
}

// watchCmd continuously re-renders the device status
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live device telemetry",
	Long: `Poll the device and re-render its status until interrupted.

Transient fetch failures are printed without clearing the last good view.`,
	Example: `  # Refresh every 5 seconds (default)
  yetictl watch

  # Faster refresh
  yetictl watch --interval 1s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "Time between polls")
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		snap, err := client.GetState(ctx)
		switch {
		case ctx.Err() != nil:
			fmt.Println()
			return nil
		case err != nil:
			fmt.Printf("%s %v\n", failMark(), err)
		default:
			// Clear the screen and redraw
			fmt.Print("\033[H\033[2J")
			fmt.Println(renderSnapshot(snap))
			fmt.Println(renderWatchFooter(client.BaseURL(), watchInterval))
		}

		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
		}
	}
}

// discoverCmd scans the network for devices
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover Yeti devices on the network",
	Long: `Scan for Yeti devices using mDNS discovery.

Listens for devices announcing themselves on the local network and
displays each one's name, address, and port.`,
	Example: `  # Scan for 10 seconds (default)
  yetictl discover

  # Quick 3-second scan
  yetictl discover --scan-timeout 3`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().IntVar(&scanTimeout, "scan-timeout", 10, "Scan timeout in seconds")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	scanner := discovery.NewScanner()
	scanner.Timeout = time.Duration(scanTimeout) * time.Second

	fmt.Printf("Scanning for Yeti devices (timeout: %ds)...\n\n", scanTimeout)

	devices, err := scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(devices)
	}

	if len(devices) == 0 {
		fmt.Println("No devices found.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the device is powered on and connected to Wi-Fi")
		fmt.Println("  - Verify you are on the same network as the device")
		fmt.Println("  - Try increasing --scan-timeout for slower networks")
		fmt.Println("  - Use --device to specify the address manually")
		return nil
	}

	fmt.Println(renderDevices(devices))
	fmt.Println("Use 'yetictl status --device <ip>' to view a device's state")
	return nil
}

// resolveField maps an operator-friendly field name to the device's JSON key.
func resolveField(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ac", "acport", "acportstatus":
		return types.FieldACPort, nil
	case "12v", "v12", "v12port", "v12portstatus":
		return types.FieldV12Port, nil
	case "usb", "usbport", "usbportstatus":
		return types.FieldUSBPort, nil
	case "backlight":
		return types.FieldBacklight, nil
	case "chargelimit", "charge-limit", "limit":
		return types.FieldChargeLimit, nil
	}
	return "", fmt.Errorf("unknown field %q (ac, 12v, usb, backlight, chargeLimit)", name)
}

func parseFieldValue(field, raw string) (int, error) {
	if field == types.FieldChargeLimit {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0, fmt.Errorf("chargeLimit must be a percent integer, got %q", raw)
		}
		return v, nil
	}
	return types.ParseToggle(raw)
}

func fieldValue(snap types.DeviceSnapshot, field string) int {
	switch field {
	case types.FieldACPort:
		return snap.ACPortStatus
	case types.FieldV12Port:
		return snap.V12PortStatus
	case types.FieldUSBPort:
		return snap.USBPortStatus
	case types.FieldBacklight:
		return snap.Backlight
	case types.FieldChargeLimit:
		return snap.ChargeLimit
	}
	return 0
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
