package mock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fako1024/btforce/pkg/codec"
	"github.com/fako1024/btforce/pkg/force"
	"github.com/fatih/stopwatch"
)

const (
	defaultDeviceID       = "00:00:00:00:00:00"
	defaultNotifyInterval = 50 * time.Millisecond
	defaultDivider        = 9072.6
)

// ErrConnectRefused is returned for connection attempts configured to fail
var ErrConnectRefused = errors.New("mock: connection refused")

// Write denotes a value written to the mock device
type Write struct {
	Descriptor force.Descriptor
	Value      any
}

// Mock denotes a simulated force sensor, providing both discovery and transport
type Mock struct {
	handle force.DeviceHandle

	failConnects   int
	connectCalls   int
	notifyInterval time.Duration
	signal         func(elapsed time.Duration) float64

	conn      *conn
	measuring bool
	taraN     int32
	offset    float64
	divider   float32
	lastForce float32
	writes    []Write
	subs      map[string]*subscription

	timer    *stopwatch.Stopwatch
	stopEmit chan struct{}

	mu sync.Mutex
}

// New instantiates a new Mock device, executing functional options, if any
func New(options ...func(*Mock)) *Mock {
	m := &Mock{
		handle: force.DeviceHandle{
			ID:   defaultDeviceID,
			Name: force.DefaultDeviceName,
		},
		notifyInterval: defaultNotifyInterval,
		signal:         defaultSignal,
		divider:        defaultDivider,
		subs:           make(map[string]*subscription),
		timer:          stopwatch.Start(0),
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// WithFailingConnects lets the first n connection attempts fail (n < 0: all attempts)
func WithFailingConnects(n int) func(*Mock) {
	return func(m *Mock) {
		m.failConnects = n
	}
}

// WithNotifyInterval sets the interval between force notifications while measuring
func WithNotifyInterval(interval time.Duration) func(*Mock) {
	return func(m *Mock) {
		m.notifyInterval = interval
	}
}

// WithSignal sets the function generating the raw force signal
func WithSignal(fn func(elapsed time.Duration) float64) func(*Mock) {
	return func(m *Mock) {
		m.signal = fn
	}
}

// WithHandle sets the device handle returned by discovery
func WithHandle(handle force.DeviceHandle) func(*Mock) {
	return func(m *Mock) {
		m.handle = handle
	}
}

// Discover returns the handle of the mock device
func (m *Mock) Discover(ctx context.Context) (force.DeviceHandle, error) {
	if err := ctx.Err(); err != nil {
		return force.DeviceHandle{}, force.ErrNoDevice
	}
	return m.handle, nil
}

// Connect opens a connection to the mock device
func (m *Mock) Connect(ctx context.Context, handle force.DeviceHandle) (force.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls++
	if m.failConnects < 0 || m.connectCalls <= m.failConnects {
		return nil, &force.TransportError{Op: "connect", ID: handle.ID, Err: ErrConnectRefused}
	}
	if handle.ID != m.handle.ID {
		return nil, &force.TransportError{Op: "connect", ID: handle.ID, Err: force.ErrNoDevice}
	}
	if m.conn != nil {
		return nil, fmt.Errorf("mock: device `%s` already connected", handle)
	}

	m.conn = &conn{
		handle: handle,
		done:   make(chan struct{}),
	}

	return m.conn, nil
}

// Disconnect closes the connection
func (m *Mock) Disconnect(c force.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.release(c, nil)
	return nil
}

// Drop simulates the loss of the current connection
func (m *Mock) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		m.release(m.conn, force.ErrConnectionLost)
	}
}

// WriteValue writes a raw value to a characteristic of the mock device
func (m *Mock) WriteValue(ctx context.Context, c force.Connection, d force.Descriptor, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConn(c); err != nil {
		return err
	}

	value, err := codec.Decode(data, d.Type)
	if err != nil {
		return err
	}
	m.writes = append(m.writes, Write{Descriptor: d, Value: value})

	switch d.ID {
	case force.Tara.ID:
		m.taraN = value.(int32)
		m.offset = m.signal(m.timer.ElapsedTime())
	case force.Calibrate.ID:
		m.divider = value.(float32)
	case force.MeasureEnable.ID:
		m.setMeasuring(value.(bool))
	default:
		return fmt.Errorf("mock: characteristic %s is not writable", d.Name)
	}

	return nil
}

// ReadValue reads the raw value of a characteristic of the mock device
func (m *Mock) ReadValue(ctx context.Context, c force.Connection, d force.Descriptor) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConn(c); err != nil {
		return nil, err
	}

	switch d.ID {
	case force.Tara.ID:
		return codec.Encode(m.taraN, d.Type)
	case force.Calibrate.ID:
		return codec.Encode(m.divider, d.Type)
	case force.MeasureEnable.ID:
		return codec.Encode(m.measuring, d.Type)
	case force.Force.ID:
		return codec.Encode(m.lastForce, d.Type)
	}

	return nil, fmt.Errorf("mock: unknown characteristic %s", d.ID)
}

// Subscribe enables notifications of a characteristic
func (m *Mock) Subscribe(c force.Connection, d force.Descriptor, fn force.NotificationHandler) (force.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkConn(c); err != nil {
		return nil, err
	}

	sub := &subscription{desc: d, fn: fn}
	m.subs[d.ID.String()] = sub

	return sub, nil
}

// Unsubscribe disables notifications of a characteristic
func (m *Mock) Unsubscribe(s force.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subs, s.Descriptor().ID.String())
	return nil
}

// Notify delivers a raw payload to the subscriber of a characteristic (if any)
func (m *Mock) Notify(d force.Descriptor, data []byte) {
	m.mu.Lock()
	sub := m.subs[d.ID.String()]
	m.mu.Unlock()

	if sub != nil {
		sub.fn(data, time.Now())
	}
}

// ConnectCalls returns the number of connection attempts
func (m *Mock) ConnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connectCalls
}

// Writes returns all values written to the device
func (m *Mock) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Write(nil), m.writes...)
}

// IsMeasuring returns if the device currently pushes force readings
func (m *Mock) IsMeasuring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.measuring
}

////////////////////////////////////////////////////////////////////////////////

func (m *Mock) checkConn(c force.Connection) error {
	if m.conn == nil || c != force.Connection(m.conn) {
		return force.ErrNotConnected
	}
	return nil
}

func (m *Mock) release(c force.Connection, cause error) {
	if m.conn == nil || c != force.Connection(m.conn) {
		return
	}

	// The firmware resets the measure flag once the central is gone
	m.setMeasuring(false)
	m.subs = make(map[string]*subscription)
	m.conn.close(cause)
	m.conn = nil
}

func (m *Mock) setMeasuring(enabled bool) {
	if enabled == m.measuring {
		return
	}
	m.measuring = enabled

	if !enabled {
		close(m.stopEmit)
		return
	}

	m.stopEmit = make(chan struct{})
	go m.emit(m.stopEmit)
}

func (m *Mock) emit(stop chan struct{}) {
	ticker := time.NewTicker(m.notifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			value := float32(m.signal(m.timer.ElapsedTime()) - m.offset)
			m.lastForce = value
			sub := m.subs[force.Force.ID.String()]
			m.mu.Unlock()

			if sub == nil {
				continue
			}
			data, err := codec.Encode(value, codec.Float32)
			if err != nil {
				continue
			}
			sub.fn(data, time.Now())
		}
	}
}

func defaultSignal(elapsed time.Duration) float64 {
	return 10. + 5.*math.Sin(elapsed.Seconds())
}

type subscription struct {
	desc force.Descriptor
	fn   force.NotificationHandler
}

func (s *subscription) Descriptor() force.Descriptor {
	return s.desc
}

type conn struct {
	handle force.DeviceHandle
	done   chan struct{}
	err    error
	once   sync.Once
	mu     sync.Mutex
}

func (c *conn) Handle() force.DeviceHandle {
	return c.handle
}

func (c *conn) Done() <-chan struct{} {
	return c.done
}

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

func (c *conn) close(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = cause
		if c.err == nil {
			c.err = force.ErrNotConnected
		}
		c.mu.Unlock()
		close(c.done)
	})
}
