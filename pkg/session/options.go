package session

import (
	"io"
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/btforce/pkg/measurement"
)

// WithLogger sets a logger
func WithLogger(logger force.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithOutput sets the writer all console output is written to
func WithOutput(w io.Writer) func(*Controller) {
	return func(c *Controller) {
		c.out = w
	}
}

// WithFormatter sets the console output formatter
func WithFormatter(f *Formatter) func(*Controller) {
	return func(c *Controller) {
		c.fmt = f
	}
}

// WithMaxAttempts sets the number of consecutive failed connection attempts before giving up
func WithMaxAttempts(n int) func(*Controller) {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the initial delay between connection attempts, doubled on each
// failure up to maxDelay
func WithRetryDelay(delay, maxDelay time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.retryDelay = delay
		c.maxRetryDelay = maxDelay
	}
}

// WithConnectTimeout sets the timeout for a single connection attempt
func WithConnectTimeout(timeout time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.connectTimeout = timeout
	}
}

// WithCommandTimeout sets the timeout for single characteristic operations
func WithCommandTimeout(timeout time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.commandTimeout = timeout
	}
}

// WithDefaults sets the defaults of the tara and measure commands
func WithDefaults(taraReadings int, interval time.Duration) func(*Controller) {
	return func(c *Controller) {
		if taraReadings > 0 {
			c.defaultTara = taraReadings
		}
		if s := interval.Seconds(); s > 0 && s <= c.maxInterval {
			c.defaultInterval = s
		}
	}
}

// WithLabel sets the initial measurement label and subject
func WithLabel(label, subject string) func(*Controller) {
	return func(c *Controller) {
		if label != "" {
			c.label = label
		}
		if subject != "" {
			c.subject = subject
		}
	}
}

// WithStore sets the store measurements are persisted to
func WithStore(store *measurement.FileStore) func(*Controller) {
	return func(c *Controller) {
		c.store = store
	}
}

// WithPlotter sets the plotter invoked for every persisted measurement
func WithPlotter(plotter *measurement.Plotter) func(*Controller) {
	return func(c *Controller) {
		c.plotter = plotter
	}
}

// WithSinks adds secondary sinks every persisted measurement is forwarded to
func WithSinks(sinks ...measurement.Sink) func(*Controller) {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sinks...)
	}
}

// WithPublisher sets a publisher all live readings are forwarded to
func WithPublisher(p Publisher) func(*Controller) {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithClock sets the clock used to timestamp measurements
func WithClock(now func() time.Time) func(*Controller) {
	return func(c *Controller) {
		c.now = now
	}
}
