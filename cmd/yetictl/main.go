// Yetictl is an operator CLI for Goal-Zero Yeti power stations.
//
// It talks to a device's local REST API directly, without going through a
// yetiwatch daemon: checking status, toggling ports, adjusting the charge
// limit, watching live telemetry, and discovering devices on the network.
//
// Usage:
//
//	yetictl [command] [flags]
//
// Running without arguments prints the device status.
// See 'yetictl --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yetiwatch/yetiwatch/pkg/common"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "yetictl",
	Short: "Goal-Zero Yeti power station control utility",
	Long: `A standalone utility for Goal-Zero Yeti power stations.

Talks to the device's local REST API directly: status, port toggles,
charge limit, live telemetry, and mDNS discovery.

If no command is specified, the device status is printed.`,
	Version: common.Version(),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: print status when no subcommand provided
		return runStatus(cmd, args)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("yetictl %s\n", common.Version())
	},
}
