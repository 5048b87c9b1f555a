package main

import (
	"fmt"
	"time"

	"github.com/fako1024/btforce/pkg/config"
	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/btforce/pkg/gattble"
	"github.com/fako1024/btforce/pkg/mock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// device denotes the combined discovery and transport of a sensor backend
type device interface {
	force.Discoverer
	force.Transport
}

// loadConfig reads the config file (if any) and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.GetDefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	overrideString(cmd, "log-level", &cfg.Log.Level)
	overrideString(cmd, "name", &cfg.Device.Name)
	overrideString(cmd, "addr", &cfg.Device.Address)
	overrideString(cmd, "out", &cfg.Measurement.BaseDir)
	overrideString(cmd, "plot", &cfg.Measurement.PlotScript)
	overrideString(cmd, "label", &cfg.Measurement.Label)
	overrideString(cmd, "subject", &cfg.Measurement.Subject)
	overrideString(cmd, "api", &cfg.API.Listen)
	if cmd.Flags().Changed("scan-timeout") {
		cfg.Device.ScanTimeout, _ = cmd.Flags().GetDuration("scan-timeout")
	}

	return cfg, cfg.Validate()
}

func overrideString(cmd *cobra.Command, flag string, target *string) {
	if cmd.Flags().Lookup(flag) == nil || !cmd.Flags().Changed(flag) {
		return
	}
	*target, _ = cmd.Flags().GetString(flag)
}

// configureLogger creates a logger for the configured level
func configureLogger(level string) (*logrus.Logger, error) {
	logLevel := logrus.InfoLevel
	if level != "" {
		var err error
		if logLevel, err = logrus.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
		}
	}

	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}

// libraryLogger returns the logger handed to the device and session layer
func libraryLogger(cfg *config.Config, log *logrus.Logger) force.Logger {
	if cfg.Log.Backend == "zap" {
		return force.NewDefaultLogger(log.IsLevelEnabled(logrus.DebugLevel))
	}
	return log
}

// openDevice opens the Bluetooth transport or a simulated device
func openDevice(cmd *cobra.Command, cfg *config.Config, logger force.Logger) (device, func(), error) {
	if useMock, _ := cmd.Flags().GetBool("mock"); useMock {
		return mock.New(), func() {}, nil
	}

	t, err := gattble.New(
		gattble.WithDeviceName(cfg.Device.Name),
		gattble.WithDeviceID(cfg.Device.Address),
		gattble.WithScanTimeout(cfg.Device.ScanTimeout),
		gattble.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}

	return t, func() {
		if err := t.Close(); err != nil {
			logger.Warnf("failed to release bluetooth device: %s", err)
		}
	}, nil
}
