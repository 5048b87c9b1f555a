package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/btforce/pkg/api"
	"github.com/fako1024/btforce/pkg/archive"
	"github.com/fako1024/btforce/pkg/config"
	"github.com/fako1024/btforce/pkg/measurement"
	"github.com/fako1024/btforce/pkg/session"
	"github.com/fako1024/btforce/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const shutdownGrace = 2 * time.Second

func runSession(cmd *cobra.Command, _ []string) error {
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

	log.Infof("scanning for `%s` (timeout %v)", cfg.Device.Name, cfg.Device.ScanTimeout)
	handle, err := dev.Discover(ctx)
	if err != nil {
		return err
	}
	log.Infof("found device %s", handle)

	noColor, _ := cmd.Flags().GetBool("no-color")
	options := []func(*session.Controller){
		session.WithLogger(libLog),
		session.WithFormatter(session.NewFormatter(!noColor && term.IsTerminal(int(os.Stdout.Fd())))),
		session.WithMaxAttempts(cfg.Session.MaxAttempts),
		session.WithRetryDelay(cfg.Session.RetryDelay, cfg.Session.MaxRetryDelay),
		session.WithConnectTimeout(cfg.Device.ConnectTimeout),
		session.WithDefaults(cfg.Measurement.DefaultTara, cfg.Measurement.DefaultInterval),
		session.WithLabel(cfg.Measurement.Label, cfg.Measurement.Subject),
		session.WithStore(measurement.NewFileStore(cfg.Measurement.BaseDir)),
		session.WithPlotter(&measurement.Plotter{Script: cfg.Measurement.PlotScript}),
	}

	if cfg.Redis.Addr != "" {
		publisher, closePublisher, err := setupPublisher(ctx, cfg, handle.ID, log)
		if err != nil {
			return err
		}
		defer closePublisher()
		options = append(options, session.WithPublisher(publisher))
	}

	if len(cfg.Cassandra.Hosts) > 0 {
		archiveSink, err := setupArchive(ctx, cfg)
		if err != nil {
			return err
		}
		defer archiveSink.Close()
		options = append(options, session.WithSinks(archiveSink))
	}

	ctrl := session.New(dev, handle, newTerminalConsole(), options...)
	ctrl.SetStateChangeHandler(func(state session.State) {
		log.Debugf("session state changed to %s", state)
	})

	if cfg.API.Listen != "" {
		srv := api.New(ctrl)
		apiErrs := srv.Listen(cfg.API.Listen)
		defer func() {
			if err := srv.Shutdown(); err != nil {
				log.Warnf("failed to shut down API: %s", err)
			}
		}()
		go func() {
			if err := <-apiErrs; err != nil {
				log.Errorf("API failed: %s", err)
			}
		}()
		log.Infof("serving API on %s", cfg.API.Listen)
	}

	// The console read is not interruptible, so give the session a grace period
	// to wind down once a signal was received
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Run(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.Infof("got signal, terminating connection to device")
		select {
		case err := <-done:
			return err
		case <-time.After(shutdownGrace):
			return ctx.Err()
		}
	}
}

func setupPublisher(ctx context.Context, cfg *config.Config, deviceID string, log *logrus.Logger) (*telemetry.Publisher, func(), error) {
	client, err := telemetry.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}

	publisher := telemetry.New(client, cfg.Redis.Channel, deviceID, telemetry.WithLogger(log))
	go publisher.Run(ctx)
	log.Infof("publishing readings to redis channel `%s`", cfg.Redis.Channel)

	return publisher, func() {
		publisher.Close()
		_ = client.Close()
	}, nil
}

func setupArchive(ctx context.Context, cfg *config.Config) (*archive.Archive, error) {
	a, err := archive.Connect(cfg.Cassandra.Hosts, cfg.Cassandra.Keyspace, cfg.Cassandra.Timeout)
	if err != nil {
		return nil, err
	}
	if err := a.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}
