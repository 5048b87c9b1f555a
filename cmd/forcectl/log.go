package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/btforce/pkg/characteristic"
	"github.com/fako1024/btforce/pkg/force"
	"github.com/fatih/stopwatch"
	"github.com/spf13/cobra"
)

const logStopTimeout = 5 * time.Second

// logCmd streams force readings to the log
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log force readings until interrupted",
	Long: `Connects to a force sensor, enables the push of force readings and logs every
reading until SIGINT / SIGTERM is received.`,
	RunE: runLog,
}

func runLog(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := configureLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	libLog := libraryLogger(cfg, log)
	dev, release, err := openDevice(cmd, cfg, libLog)
	if err != nil {
		return fmt.Errorf("failed to initialize bluetooth: %w", err)
	}
	defer release()

	handle, err := dev.Discover(ctx)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Device.ConnectTimeout)
	conn, err := dev.Connect(connectCtx, handle)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if derr := dev.Disconnect(conn); derr != nil {
			log.Warnf("failed to disconnect: %s", derr)
		}
	}()
	log.Infof("connected to %s", handle)

	timer := stopwatch.Start(0)
	forceChar := characteristic.New(dev, conn, force.Force, characteristic.WithLogger(libLog))
	if err := forceChar.Subscribe(func(value any, receivedAt time.Time) {
		log.Infof("force: %v (t=%.3fs, received %s)", value, timer.ElapsedTime().Seconds(), receivedAt.Format(time.RFC3339Nano))
	}); err != nil {
		return err
	}
	defer func() {
		_ = forceChar.Unsubscribe()
	}()

	measure := characteristic.New(dev, conn, force.MeasureEnable, characteristic.WithLogger(libLog))
	if err := measure.WriteBool(ctx, true); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logStopTimeout)
		defer cancel()
		if serr := measure.WriteBool(stopCtx, false); serr != nil && err == nil {
			err = serr
		}
	}()

	select {
	case <-ctx.Done():
		log.Infof("got signal, terminating connection to device")
		return nil
	case <-conn.Done():
		return conn.Err()
	}
}
