package measurement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fako1024/btforce/pkg/force"
)

const stopTimeout = 5 * time.Second

var (

	// ErrInvalidDuration is returned for non-positive capture intervals
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrAlreadyRun is returned when running a capture more than once
	ErrAlreadyRun = errors.New("capture has already been run")
)

// Source denotes a provider of force readings that can be switched on and off
type Source interface {

	// StartMeasuring enables the push of readings
	StartMeasuring(ctx context.Context) error

	// StopMeasuring disables the push of readings
	StopMeasuring(ctx context.Context) error

	// NextReading waits for the next reading
	NextReading(ctx context.Context) (force.Reading, error)
}

// Capture denotes a single, bounded capture run
type Capture struct {
	label   string
	subject string
	hasRun  atomic.Bool

	progress func(elapsed float64, interval time.Duration)
	now      func() time.Time

	logger force.Logger
}

// NewCapture instantiates a new Capture, executing functional options, if any
func NewCapture(label, subject string, options ...func(*Capture)) *Capture {
	c := &Capture{
		label:   label,
		subject: subject,
		now:     time.Now,
		logger:  &force.NullLogger{},
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// WithProgress sets a handler function that is called for every recorded sample
func WithProgress(fn func(elapsed float64, interval time.Duration)) func(*Capture) {
	return func(c *Capture) {
		c.progress = fn
	}
}

// WithClock sets the clock used to determine the start time of the series
func WithClock(now func() time.Time) func(*Capture) {
	return func(c *Capture) {
		c.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger force.Logger) func(*Capture) {
	return func(c *Capture) {
		c.logger = logger
	}
}

// Run records readings from src until their relative time reaches the interval. The
// relative time is counted from the first reading received, so any latency in enabling
// the source is not part of the series.
func (c *Capture) Run(ctx context.Context, src Source, interval time.Duration) (series *Series, err error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDuration, interval)
	}
	if !c.hasRun.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	s := &Series{
		Label:     c.label,
		Subject:   c.subject,
		StartedAt: c.now(),
		Interval:  interval,
	}

	if err := src.StartMeasuring(ctx); err != nil {
		return nil, err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if serr := src.StopMeasuring(stopCtx); serr != nil && err == nil {
			series, err = nil, serr
		}
	}()

	var (
		zero  time.Time
		limit = interval.Seconds()
	)
	for {
		r, err := src.NextReading(ctx)
		if err != nil {
			return nil, err
		}

		// Start the clock with the first reading
		if zero.IsZero() {
			zero = r.ObservedAt
		}

		rel := r.ObservedAt.Sub(zero).Seconds()
		if n := len(s.Samples); n > 0 && rel < s.Samples[n-1].Time {
			c.logger.Debugf("clamping out-of-order reading at %v", r.ObservedAt)
			rel = s.Samples[n-1].Time
		}
		s.Samples = append(s.Samples, Sample{Time: rel, Force: r.Value})

		if c.progress != nil {
			c.progress(rel, interval)
		}
		if rel >= limit {
			break
		}
	}

	return s, nil
}
