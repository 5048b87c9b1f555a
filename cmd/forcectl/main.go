package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fako1024/btforce/pkg/metrics"
	"github.com/spf13/cobra"
)

var version = "dev"

// rootCmd runs an interactive session with a force sensor
var rootCmd = &cobra.Command{
	Use:   "forcectl",
	Short: "Interactive controller for ForceESP force sensors",
	Long: `Connects to a ForceESP force sensor via Bluetooth Low Energy and provides an
interactive command prompt to tare, calibrate, monitor and record force measurements.

Recorded measurements are written as CSV / JSON to <base_dir>/<subject>/ and can
optionally be plotted, archived in Cassandra and published live via Redis.`,
	Version:      version,
	RunE:         runSession,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		metrics.MustRegister()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {

		// Ctrl+C is a regular exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {

	// Silence Cobra's "Error:" prefix, main() prints errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(logCmd)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to YAML config file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("name", "", "Name of remote peripheral")
	flags.String("addr", "", "Address of remote peripheral (MAC on Linux)")
	flags.Duration("scan-timeout", 0, "Maximum duration of the device scan")
	flags.Bool("mock", false, "Use a simulated device instead of Bluetooth")

	// Session flags
	rootCmd.Flags().String("out", "", "Base directory measurements are written to")
	rootCmd.Flags().String("plot", "", "Plot script invoked for every measurement (empty: disabled)")
	rootCmd.Flags().String("label", "", "Initial measurement label")
	rootCmd.Flags().String("subject", "", "Initial measurement subject")
	rootCmd.Flags().String("api", "", "Listen address of the read-only REST API (empty: disabled)")
	rootCmd.Flags().Bool("no-color", false, "Disable colored output")
}
