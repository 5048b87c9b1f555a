package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fako1024/btforce/pkg/characteristic"
	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/btforce/pkg/measurement"
	"github.com/fako1024/btforce/pkg/metrics"
)

const (
	defaultMaxAttempts    = 5
	defaultRetryDelay     = time.Second
	defaultMaxRetryDelay  = 10 * time.Second
	defaultConnectTimeout = 20 * time.Second
	defaultCommandTimeout = 5 * time.Second

	defaultLabel   = "measurement"
	defaultSubject = "default"
)

// ErrRetriesExhausted is returned once the maximum number of connection attempts failed
var ErrRetriesExhausted = errors.New("connection attempts exhausted")

// Publisher denotes a consumer of live readings (it must not block)
type Publisher interface {
	Publish(r force.Reading)
}

// Status denotes a snapshot of the session
type Status struct {
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Device   string `json:"device"`
	Label    string `json:"label"`
	Subject  string `json:"subject"`
	Index    int    `json:"index"`
	Unsaved  bool   `json:"unsaved"`
}

// LastMeasurement denotes the most recently persisted measurement
type LastMeasurement struct {
	Paths    measurement.Paths `json:"paths"`
	Label    string            `json:"label"`
	Subject  string            `json:"subject"`
	Peak     float64           `json:"peak"`
	Samples  int               `json:"samples"`
	Interval float64           `json:"interval"`
}

// binding denotes the characteristics bound to an open connection
type binding struct {
	conn      force.Connection
	tara      *characteristic.Characteristic
	calibrate *characteristic.Characteristic
	measure   *characteristic.Characteristic
	force     *characteristic.Characteristic
}

// Controller denotes a session controller for a single force sensor
type Controller struct {
	transport force.Transport
	handle    force.DeviceHandle
	console   Console
	out       io.Writer
	fmt       *Formatter

	maxAttempts    int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	connectTimeout time.Duration
	commandTimeout time.Duration

	defaultTara     int
	defaultInterval float64
	maxInterval     float64

	store     *measurement.FileStore
	plotter   *measurement.Plotter
	sinks     []measurement.Sink
	publisher Publisher

	cell     *force.Cell
	commands []*Command

	state    State
	attempts int
	bound    *binding
	label    string
	subject  string
	index    int
	pending  *measurement.Series
	last     *LastMeasurement

	stateChangeHandler func(state State)
	stateChangeChan    chan State

	now func() time.Time

	mu sync.RWMutex

	logger force.Logger
}

// New instantiates a new Controller, executing functional options, if any
func New(transport force.Transport, handle force.DeviceHandle, console Console, options ...func(*Controller)) *Controller {
	c := &Controller{
		transport: transport,
		handle:    handle,
		console:   console,
		out:       os.Stdout,
		fmt:       NewFormatter(false),

		maxAttempts:    defaultMaxAttempts,
		retryDelay:     defaultRetryDelay,
		maxRetryDelay:  defaultMaxRetryDelay,
		connectTimeout: defaultConnectTimeout,
		commandTimeout: defaultCommandTimeout,

		defaultTara:     defaultTaraReadings,
		defaultInterval: defaultMeasureInterval,
		maxInterval:     maxMeasureInterval,

		store:   measurement.NewFileStore("measurements"),
		cell:    force.NewCell(),
		label:   defaultLabel,
		subject: defaultSubject,
		index:   1,
		now:     time.Now,
		logger:  &force.NullLogger{},
	}

	for _, option := range options {
		option(c)
	}

	c.cell.SetDropHandler(func() {
		metrics.NotificationsDropped.WithLabelValues(force.Force.Name, "overflow").Inc()
	})
	c.commands = c.commandTable()

	return c
}

// Run connects to the device and processes commands until the user exits, the context
// ends or all connection attempts have been exhausted. A lost connection is re-established.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateIdle)
			return err
		}

		c.setState(StateConnecting)
		c.printf("%s\n", c.fmt.Blue(fmt.Sprintf("Connecting to %s...", c.handle)))

		b, err := c.connect(ctx)
		if err != nil {
			attempts := c.failedAttempt()
			metrics.ConnectAttempts.WithLabelValues("failure").Inc()
			c.logger.Debugf("connection attempt %d to `%s` failed: %s", attempts, c.handle, err)
			c.printf("%s[%d/%d]\n", c.fmt.Red("Connection failed "), attempts, c.maxAttempts)

			if attempts >= c.maxAttempts {
				c.setState(StateFailed)
				return fmt.Errorf("%w (%d attempts): %w", ErrRetriesExhausted, attempts, err)
			}
			if err := sleep(ctx, c.backoff(attempts)); err != nil {
				c.setState(StateIdle)
				return err
			}
			continue
		}
		metrics.ConnectAttempts.WithLabelValues("success").Inc()

		loopErr := c.commandLoop(ctx, b)
		c.teardown(b)

		if loopErr != nil && force.IsTransportError(loopErr) {
			c.logger.Warnf("connection to `%s` failed: %s", c.handle, loopErr)
			c.printf("\n%s\n", c.fmt.Red("Connection lost"))
			continue
		}

		c.setState(StateIdle)
		return loopErr
	}
}

// Cell returns the cell holding the latest force reading
func (c *Controller) Cell() *force.Cell {
	return c.cell
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// Attempts returns the number of consecutive failed connection attempts
func (c *Controller) Attempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.attempts
}

// Status returns a snapshot of the session
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		State:    c.state.String(),
		Attempts: c.attempts,
		Device:   c.handle.String(),
		Label:    c.label,
		Subject:  c.subject,
		Index:    c.index,
		Unsaved:  c.pending != nil,
	}
}

// LastMeasurement returns the most recently persisted measurement, if any
func (c *Controller) LastMeasurement() (LastMeasurement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.last == nil {
		return LastMeasurement{}, false
	}
	return *c.last, true
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (c *Controller) SetStateChangeHandler(fn func(state State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that state changes are put on (if not full)
func (c *Controller) SetStateChangeChannel(ch chan State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateChangeChan = ch
}

////////////////////////////////////////////////////////////////////////////////

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	handler, ch := c.stateChangeHandler, c.stateChangeChan
	c.mu.Unlock()

	c.logger.Debugf("session state: %s", state)

	// Call handler function, if any
	if handler != nil {
		handler(state)
	}

	// Put state change on channel, if any
	if ch != nil {
		select {
		case ch <- state:
		default:
		}
	}
}

func (c *Controller) failedAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts++
	return c.attempts
}

func (c *Controller) backoff(attempts int) time.Duration {
	delay := c.retryDelay
	for i := 1; i < attempts && delay < c.maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > c.maxRetryDelay {
		delay = c.maxRetryDelay
	}
	return delay
}

func (c *Controller) connect(ctx context.Context) (*binding, error) {
	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.transport.Connect(connectCtx, c.handle)
	if err != nil {
		return nil, err
	}

	c.setState(StateConnected)
	bind := func(d force.Descriptor) *characteristic.Characteristic {
		return characteristic.New(c.transport, conn, d, characteristic.WithLogger(c.logger))
	}
	b := &binding{
		conn:      conn,
		tara:      bind(force.Tara),
		calibrate: bind(force.Calibrate),
		measure:   bind(force.MeasureEnable),
		force:     bind(force.Force),
	}

	if err := b.force.Subscribe(c.onForce); err != nil {
		if derr := c.transport.Disconnect(conn); derr != nil {
			c.logger.Warnf("failed to disconnect from `%s`: %s", c.handle, derr)
		}
		return nil, err
	}

	c.mu.Lock()
	c.attempts = 0
	c.bound = b
	c.mu.Unlock()

	return b, nil
}

func (c *Controller) onForce(value any, receivedAt time.Time) {
	f, ok := value.(float32)
	if !ok {
		return
	}

	r := force.Reading{
		Value:      float64(f),
		ObservedAt: receivedAt,
	}
	c.cell.Set(r)
	metrics.LatestForce.Set(r.Value)

	if c.publisher != nil {
		c.publisher.Publish(r)
	}
}

func (c *Controller) teardown(b *binding) {
	if err := b.force.Unsubscribe(); err != nil {
		c.logger.Debugf("failed to unsubscribe from `%s`: %s", c.handle, err)
	}

	c.setState(StateDisconnecting)
	c.printf("%s\n", c.fmt.Blue("Disconnecting..."))
	if err := c.transport.Disconnect(b.conn); err != nil {
		c.logger.Warnf("failed to disconnect from `%s`: %s", c.handle, err)
	}

	c.mu.Lock()
	c.bound = nil
	c.mu.Unlock()
}

func (c *Controller) commandLoop(ctx context.Context, b *binding) error {
	c.setState(StateCommandLoop)
	c.printf("Connected to %s, enter command %s\n", c.handle, c.fmt.Bold(c.summary()))

	for {
		if err := c.checkSession(ctx, b); err != nil {
			return err
		}

		line, err := c.console.ReadLine(c.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read command: %w", err)
		}

		if err := c.checkSession(ctx, b); err != nil {
			return err
		}

		exit, err := c.Dispatch(ctx, line)
		if exit {
			return nil
		}
		if err != nil {
			if force.IsTransportError(err) {
				return err
			}
			c.printf("%s\n", c.fmt.Red(err.Error()))
		}
	}
}

func (c *Controller) checkSession(ctx context.Context, b *binding) error {
	select {
	case <-b.conn.Done():
		return lostError(b)
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (c *Controller) prompt() string {
	c.mu.RLock()
	label := c.label
	c.mu.RUnlock()

	return c.fmt.Bold(label+"@[") + c.fmt.Yellow(c.handle.ID) + c.fmt.Bold("]$ ")
}

func (c *Controller) currentBinding() (*binding, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.bound == nil {
		return nil, force.ErrNotConnected
	}
	return c.bound, nil
}

func (c *Controller) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Controller) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.commandTimeout)
}

func lostError(b *binding) error {
	cause := b.conn.Err()
	if cause == nil {
		cause = force.ErrConnectionLost
	}
	return &force.TransportError{
		Op:  "session",
		ID:  b.conn.Handle().ID,
		Err: cause,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
