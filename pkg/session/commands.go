package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/btforce/pkg/measurement"
	"github.com/fako1024/btforce/pkg/metrics"
	"github.com/fatih/stopwatch"
	"github.com/google/shlex"
)

const (
	defaultTaraReadings    = 15
	defaultMeasureInterval = 10.
	maxMeasureInterval     = 600.

	// CalibrationDivider denotes the (fixed) divider written by the calibrate command
	CalibrationDivider float32 = 9072.6

	maxParams        = 2
	captureBuffer    = 1024
	monitorPrecision = 2
)

var errNoPendingMeasurement = errors.New("no unsaved measurement")

// Command denotes an entry of the command table
type Command struct {
	Name   string
	Alias  string
	Params []Param

	run func(ctx context.Context, args Args) error
}

// Usage returns the short usage string of the command, e.g. `tara [n]`
func (c *Command) Usage() string {
	parts := []string{c.Name}
	for _, p := range c.Params {
		parts = append(parts, "["+p.Name+"]")
	}
	return strings.Join(parts, " ")
}

// Dispatch tokenizes and executes a single command line. It returns true if the session
// should end.
func (c *Controller) Dispatch(ctx context.Context, line string) (exit bool, err error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("failed to parse command `%s`: %w", line, err)
	}
	if len(tokens) == 0 {
		return false, nil
	}

	cmd := c.lookup(tokens[0])
	if cmd == nil {
		metrics.Commands.WithLabelValues("unknown", "ignored").Inc()
		c.printf("%s%s\n", c.fmt.Red("enter valid command "), c.summary())
		return false, nil
	}
	if cmd.run == nil {
		metrics.Commands.WithLabelValues(cmd.Name, "ok").Inc()
		return true, nil
	}

	params := tokens[1:]
	if len(params) > maxParams {
		params = params[:maxParams]
	}
	args, notices := ParseArgs(cmd.Params, params)
	for _, notice := range notices {
		c.printf("%s\n", c.fmt.Yellow(notice.String()))
	}

	c.logger.Debugf("running command `%s` with %v", cmd.Name, args)
	if err := cmd.run(ctx, args); err != nil {
		metrics.Commands.WithLabelValues(cmd.Name, "error").Inc()
		return false, err
	}
	metrics.Commands.WithLabelValues(cmd.Name, "ok").Inc()

	return false, nil
}

// Commands returns the command table
func (c *Controller) Commands() []*Command {
	return c.commands
}

////////////////////////////////////////////////////////////////////////////////

func (c *Controller) commandTable() []*Command {
	return []*Command{
		{
			Name:  "tara",
			Alias: "t",
			Params: []Param{
				{Name: "n", Kind: KindInt, Default: c.defaultTara, Validate: intRange(1, math.MaxInt32)},
			},
			run: c.cmdTara,
		},
		{
			Name:  "measure",
			Alias: "m",
			Params: []Param{
				{Name: "s", Kind: KindFloat, Default: c.defaultInterval, Validate: floatRange(0, c.maxInterval)},
			},
			run: c.cmdMeasure,
		},
		{
			Name:  "monitor",
			Alias: "o",
			run:   c.cmdMonitor,
		},
		{
			Name:  "calibrate",
			Alias: "c",
			run:   c.cmdCalibrate,
		},
		{
			Name:  "label",
			Alias: "l",
			Params: []Param{
				{Name: "l", Kind: KindString},
				{Name: "subject", Kind: KindString},
			},
			run: c.cmdLabel,
		},
		{
			Name:  "save",
			Alias: "s",
			Params: []Param{
				{Name: "l", Kind: KindString},
			},
			run: c.cmdSave,
		},
		{
			Name:  "help",
			Alias: "h",
			run:   c.cmdHelp,
		},
		{
			Name:  "exit",
			Alias: "x",
		},
	}
}

func (c *Controller) lookup(name string) *Command {
	for _, cmd := range c.commands {
		if name == cmd.Name || name == cmd.Alias {
			return cmd
		}
	}
	return nil
}

func (c *Controller) summary() string {
	usages := make([]string, 0, len(c.commands))
	for _, cmd := range c.commands {
		usages = append(usages, cmd.Usage())
	}
	return "[" + strings.Join(usages, ", ") + "]"
}

func (c *Controller) cmdTara(ctx context.Context, args Args) error {
	b, err := c.currentBinding()
	if err != nil {
		return err
	}

	n := args.Int("n")
	c.printf("%s\n", c.fmt.Blue(fmt.Sprintf("Tara, n=%d", n)))

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	return b.tara.WriteInt32(opCtx, int32(n))
}

func (c *Controller) cmdCalibrate(ctx context.Context, _ Args) error {
	b, err := c.currentBinding()
	if err != nil {
		return err
	}

	c.printf("%s\n", c.fmt.Blue("calibrating"))

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	return b.calibrate.WriteFloat32(opCtx, CalibrationDivider)
}

func (c *Controller) cmdLabel(_ context.Context, args Args) error {
	c.mu.Lock()
	if label, ok := args.String("l"); ok && label != c.label {
		c.label = label
		c.index = 1
	}
	if subject, ok := args.String("subject"); ok {
		c.subject = subject
	}
	label, subject := c.label, c.subject
	c.mu.Unlock()

	c.printf("%s\n", c.fmt.Blue(fmt.Sprintf("label: %s, subject: %s", label, subject)))

	return nil
}

func (c *Controller) cmdHelp(context.Context, Args) error {
	c.printf("%s\n", c.summary())
	return nil
}

func (c *Controller) cmdMeasure(ctx context.Context, args Args) error {
	b, err := c.currentBinding()
	if err != nil {
		return err
	}

	c.mu.RLock()
	label, subject, index := c.label, c.subject, c.index
	c.mu.RUnlock()

	interval := measurement.Seconds(args.Float("s"))
	c.printf("%s\n", c.fmt.Blue(fmt.Sprintf("measuring %s #%d for %v", label, index, interval)))

	capture := measurement.NewCapture(label, subject,
		measurement.WithLogger(c.logger),
		measurement.WithClock(c.now),
		measurement.WithProgress(func(elapsed float64, interval time.Duration) {
			c.printf("\r%6.2f / %.2f s", elapsed, interval.Seconds())
		}),
	)

	src := newCaptureSource(c, b)
	series, err := capture.Run(ctx, src, interval)
	c.printf("\n")
	if dropped := src.Dropped(); dropped > 0 {
		c.logger.Warnf("%d readings were dropped during the measurement", dropped)
	}
	if err != nil {
		return fmt.Errorf("failed to run measurement: %w", err)
	}
	c.printf("%s\n", c.fmt.Green("done"))
	metrics.CaptureSamples.Observe(float64(len(series.Samples)))

	peak, err := series.Peak(measurement.ColumnForce)
	if err != nil {
		return fmt.Errorf("failed to evaluate measurement: %w", err)
	}
	c.printf("max: %.2f\n", measurement.Round(peak))

	return c.persist(ctx, series, peak)
}

func (c *Controller) cmdSave(ctx context.Context, args Args) error {
	c.mu.RLock()
	series := c.pending
	c.mu.RUnlock()

	if series == nil {
		return errNoPendingMeasurement
	}
	if label, ok := args.String("l"); ok {
		series = series.WithLabel(label)
	}

	peak, err := series.Peak(measurement.ColumnForce)
	if err != nil {
		return fmt.Errorf("failed to evaluate measurement: %w", err)
	}

	return c.persist(ctx, series, peak)
}

// persist writes a series to disk, keeping it for a later `save` if that fails, and
// forwards it to the plotter and all secondary sinks
func (c *Controller) persist(ctx context.Context, series *measurement.Series, peak float64) error {
	paths, err := c.store.Write(series)
	if err != nil {
		c.mu.Lock()
		c.pending = series
		c.mu.Unlock()
		return fmt.Errorf("failed to save measurement (retry with `save [l]`): %w", err)
	}

	c.mu.Lock()
	c.pending = nil
	c.index++
	c.last = &LastMeasurement{
		Paths:    paths,
		Label:    series.Label,
		Subject:  series.Subject,
		Peak:     peak,
		Samples:  len(series.Samples),
		Interval: series.Interval.Seconds(),
	}
	c.mu.Unlock()

	c.printf("saved measurement to %s\n", c.fmt.Yellow(paths.CSV))

	if err := c.plotter.Plot(paths.CSV, series, peak); err != nil {
		c.logger.Warnf("failed to plot measurement: %s", err)
	}

	for _, sink := range c.sinks {
		sinkCtx, cancel := c.opContext(ctx)
		if err := sink.Save(sinkCtx, series); err != nil {
			c.logger.Warnf("failed to archive measurement `%s`: %s", series.Name(), err)
		}
		cancel()
	}

	return nil
}

func (c *Controller) cmdMonitor(ctx context.Context, _ Args) (err error) {
	b, err := c.currentBinding()
	if err != nil {
		return err
	}

	c.printf("%s\n", c.fmt.Blue("monitoring, press any key to stop"))

	opCtx, cancel := c.opContext(ctx)
	err = b.measure.WriteBool(opCtx, true)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commandTimeout)
		defer cancel()
		if serr := b.measure.WriteBool(stopCtx, false); serr != nil && err == nil {
			err = serr
		}
		c.printf("\n%s\n", c.fmt.Blue("stopped"))
	}()

	keyCtx, stopKey := context.WithCancel(ctx)
	defer stopKey()
	key := c.console.WaitKey(keyCtx)

	timer := stopwatch.Start(0)
	_, seq := c.cell.Latest()
	for {
		select {
		case <-key:
			return nil
		case <-b.conn.Done():
			return lostError(b)
		case <-ctx.Done():
			return ctx.Err()
		case <-c.cell.Updated(seq):
			var r force.Reading
			r, seq = c.cell.Latest()
			c.printf("\r%s", c.fmt.Bold(fmt.Sprintf("%8.*f kg * ge  [%6.1f s]   ", monitorPrecision, r.Value, timer.ElapsedTime().Seconds())))
		}
	}
}
