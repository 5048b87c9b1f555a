package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// scanCmd runs the device discovery only
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for a force sensor",
	Long: `Scans for a force sensor advertising the command / force services or the
configured name (or address) and prints its handle.`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := configureLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	libLog := libraryLogger(cfg, log)
	dev, release, err := openDevice(cmd, cfg, libLog)
	if err != nil {
		return fmt.Errorf("failed to initialize bluetooth: %w", err)
	}
	defer release()

	handle, err := dev.Discover(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", handle.ID, handle.Name)

	return nil
}
