// Package gattble provides discovery of and access to a force sensor via a local HCI device
package gattble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/gatt"
)

const (
	defaultScanTimeout = 5 * time.Second
	connectionMTU      = 500
)

var errPoweredOff = errors.New("bluetooth device powered off")

type connectResult struct {
	conn *conn
	err  error
}

// Transport denotes a GATT client for force sensors, providing both discovery and transport
type Transport struct {
	deviceID    string
	deviceName  string
	scanTimeout time.Duration

	btDevice    gatt.Device
	ready       chan struct{}
	readyOnce   sync.Once
	peripherals map[string]gatt.Peripheral
	found       chan gatt.Peripheral
	pending     map[string]chan connectResult
	conns       map[string]*conn

	mu sync.Mutex

	logger force.Logger
}

// New instantiates a new Transport, executing functional options, if any
func New(options ...func(*Transport)) (*Transport, error) {

	// Initialize a new transport
	t := &Transport{
		deviceName:  force.DefaultDeviceName,
		scanTimeout: defaultScanTimeout,
		ready:       make(chan struct{}),
		peripherals: make(map[string]gatt.Peripheral),
		pending:     make(map[string]chan connectResult),
		conns:       make(map[string]*conn),
		logger:      &force.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(t)
	}

	// Initialize a new GATT device (if not provided as option)
	if t.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to open bluetooth device: %w", err)
		}
		t.btDevice = btDevice
	}

	// Register handlers
	t.btDevice.Handle(
		gatt.AddPeripheralDiscovered(t.onPeriphDiscovered),
		gatt.AddPeripheralConnected(t.onPeriphConnected),
		gatt.AddPeripheralDisconnected(t.onPeriphDisconnected),
	)

	// Initialize the device
	if err := t.btDevice.Init(t.onStateChanged); err != nil {
		return nil, fmt.Errorf("failed to initialize bluetooth device: %w", err)
	}

	return t, nil
}

// Discover scans for the force sensor until it is found or the scan timeout is reached
func (t *Transport) Discover(ctx context.Context) (force.DeviceHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, t.scanTimeout)
	defer cancel()

	select {
	case <-t.ready:
	case <-ctx.Done():
		return force.DeviceHandle{}, fmt.Errorf("%w: bluetooth device not powered on", force.ErrNoDevice)
	}

	found := make(chan gatt.Peripheral, 1)
	t.mu.Lock()
	t.found = found
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.found = nil
		t.mu.Unlock()
		if err := t.btDevice.StopScanning(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
	}()

	if err := t.btDevice.Scan([]gatt.UUID{}, false); err != nil {
		return force.DeviceHandle{}, fmt.Errorf("failed to start scanning: %w", err)
	}

	select {
	case p := <-found:
		return force.DeviceHandle{
			ID:   p.ID(),
			Name: p.Name(),
		}, nil
	case <-ctx.Done():
		return force.DeviceHandle{}, fmt.Errorf("%w within %v", force.ErrNoDevice, t.scanTimeout)
	}
}

// Connect opens a connection to a previously discovered device and resolves its characteristics
func (t *Transport) Connect(ctx context.Context, handle force.DeviceHandle) (force.Connection, error) {
	t.mu.Lock()
	p, ok := t.peripherals[strings.ToUpper(handle.ID)]
	if !ok {
		t.mu.Unlock()
		return nil, &force.TransportError{Op: "connect", ID: handle.ID, Err: force.ErrNoDevice}
	}
	result := make(chan connectResult, 1)
	t.pending[p.ID()] = result
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, p.ID())
		t.mu.Unlock()
	}()

	t.logger.Debugf("connecting device `%s/%s`", p.Name(), p.ID())
	if err := t.btDevice.Connect(p); err != nil {
		return nil, &force.TransportError{Op: "connect", ID: handle.ID, Err: err}
	}

	select {
	case res := <-result:
		if res.err != nil {
			return nil, &force.TransportError{Op: "connect", ID: handle.ID, Err: res.err}
		}
		return res.conn, nil
	case <-ctx.Done():
		_ = t.btDevice.CancelConnection(p)
		return nil, &force.TransportError{Op: "connect", ID: handle.ID, Err: ctx.Err()}
	}
}

// Disconnect closes a connection
func (t *Transport) Disconnect(c force.Connection) error {
	cn, err := t.conn(c)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.conns[cn.p.ID()] == cn {
		delete(t.conns, cn.p.ID())
	}
	t.mu.Unlock()

	cn.close(nil)
	if err := t.btDevice.CancelConnection(cn.p); err != nil {
		return &force.TransportError{Op: "disconnect", ID: cn.handle.ID, Err: err}
	}

	return nil
}

// WriteValue writes a raw value to a characteristic (with response)
func (t *Transport) WriteValue(ctx context.Context, c force.Connection, d force.Descriptor, data []byte) error {
	cn, char, err := t.resolve(c, d)
	if err != nil {
		return err
	}

	return cn.do(ctx, func() error {
		return cn.p.WriteCharacteristic(char, data, false)
	})
}

// ReadValue reads the raw value of a characteristic
func (t *Transport) ReadValue(ctx context.Context, c force.Connection, d force.Descriptor) ([]byte, error) {
	cn, char, err := t.resolve(c, d)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = cn.do(ctx, func() (rerr error) {
		data, rerr = cn.p.ReadCharacteristic(char)
		return
	})

	return data, err
}

// Subscribe enables notifications of a characteristic
func (t *Transport) Subscribe(c force.Connection, d force.Descriptor, fn force.NotificationHandler) (force.Subscription, error) {
	cn, char, err := t.resolve(c, d)
	if err != nil {
		return nil, err
	}

	if err := cn.p.SetNotifyValue(char, func(_ *gatt.Characteristic, data []byte, err error) {
		if err != nil {
			t.logger.Warnf("failed to receive notification from `%s`: %s", d.Name, err)
			return
		}
		fn(data, time.Now())
	}); err != nil {
		return nil, fmt.Errorf("failed to subscribe characteristic: %w", err)
	}

	return &subscription{conn: cn, char: char, desc: d}, nil
}

// Unsubscribe disables notifications of a characteristic
func (t *Transport) Unsubscribe(s force.Subscription) error {
	sub, ok := s.(*subscription)
	if !ok {
		return fmt.Errorf("invalid subscription type %T", s)
	}

	// Nothing to do once the peripheral is gone
	select {
	case <-sub.conn.done:
		return nil
	default:
	}

	return sub.conn.p.SetNotifyValue(sub.char, nil)
}

// Close terminates all connections and releases the bluetooth device
func (t *Transport) Close() error {
	t.mu.Lock()
	conns := make([]*conn, 0, len(t.conns))
	for _, cn := range t.conns {
		conns = append(conns, cn)
	}
	t.mu.Unlock()

	for _, cn := range conns {
		if err := t.Disconnect(cn); err != nil {
			t.logger.Warnf("failed to disconnect `%s`: %s", cn.handle, err)
		}
	}

	_ = t.btDevice.StopScanning()
	return t.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) conn(c force.Connection) (*conn, error) {
	cn, ok := c.(*conn)
	if !ok || cn == nil {
		return nil, force.ErrNotConnected
	}
	return cn, nil
}

func (t *Transport) resolve(c force.Connection, d force.Descriptor) (*conn, *gatt.Characteristic, error) {
	cn, err := t.conn(c)
	if err != nil {
		return nil, nil, err
	}

	select {
	case <-cn.done:
		return nil, nil, cn.Err()
	default:
	}

	char, ok := cn.chars[d.ID.String()]
	if !ok {
		return nil, nil, fmt.Errorf("characteristic %s (%s) not provided by device", d.Name, d.ID)
	}

	return cn, char, nil
}

func (t *Transport) onStateChanged(d gatt.Device, s gatt.State) {
	t.logger.Debugf("bluetooth device state: %s", s)

	switch s {
	case gatt.StatePoweredOn:
		t.readyOnce.Do(func() {
			close(t.ready)
		})
	case gatt.StatePoweredOff:
		t.mu.Lock()
		conns := t.conns
		t.conns = make(map[string]*conn)
		t.mu.Unlock()

		for _, cn := range conns {
			cn.close(errPoweredOff)
		}
	default:
		if err := d.StopScanning(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
	}
}

func (t *Transport) onPeriphDiscovered(p gatt.Peripheral, a *gatt.Advertisement, rssi int) {
	t.logger.Debugf("discovered device `%s/%s` (rssi %d)", p.Name(), p.ID(), rssi)

	name := p.Name()
	var services []gatt.UUID
	if a != nil {
		if a.LocalName != "" {
			name = a.LocalName
		}
		services = a.Services
	}
	if !t.matches(p.ID(), name, services) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.peripherals[strings.ToUpper(p.ID())] = p
	if t.found != nil {
		select {
		case t.found <- p:
		default:
		}
	}
}

func (t *Transport) onPeriphConnected(p gatt.Peripheral, connErr error) {
	t.mu.Lock()
	result, ok := t.pending[p.ID()]
	t.mu.Unlock()
	if !ok {
		return
	}

	t.logger.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())

	if connErr != nil {
		result <- connectResult{err: connErr}
		return
	}

	chars, err := t.discover(p)
	if err != nil {
		_ = p.Device().CancelConnection(p)
		result <- connectResult{err: err}
		return
	}

	cn := &conn{
		handle: force.DeviceHandle{ID: p.ID(), Name: p.Name()},
		p:      p,
		chars:  chars,
		done:   make(chan struct{}),
	}
	t.mu.Lock()
	t.conns[p.ID()] = cn
	t.mu.Unlock()

	result <- connectResult{conn: cn}
}

func (t *Transport) onPeriphDisconnected(p gatt.Peripheral, err error) {
	t.mu.Lock()
	cn, ok := t.conns[p.ID()]
	delete(t.conns, p.ID())
	result, pending := t.pending[p.ID()]
	t.mu.Unlock()

	t.logger.Debugf("disconnected peripheral `%s/%s`", p.Name(), p.ID())

	cause := force.ErrConnectionLost
	if err != nil {
		cause = fmt.Errorf("%w: %w", force.ErrConnectionLost, err)
	}
	if ok {
		cn.close(cause)
	}
	if pending {
		select {
		case result <- connectResult{err: cause}:
		default:
		}
	}
}

func (t *Transport) discover(p gatt.Peripheral) (map[string]*gatt.Characteristic, error) {

	// Set connection MTU
	if err := p.SetMTU(connectionMTU); err != nil {
		return nil, fmt.Errorf("failed to set MTU: %w", err)
	}

	// Discover services
	ss, err := p.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	chars := make(map[string]*gatt.Characteristic)
	for _, s := range ss {
		if !s.UUID().Equal(toUUID(force.CommandService)) && !s.UUID().Equal(toUUID(force.ForceService)) {
			continue
		}

		// Discover characteristics
		cs, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics: %w", err)
		}
		for _, c := range cs {
			for _, d := range force.Descriptors {
				if !c.UUID().Equal(toUUID(d.ID)) {
					continue
				}

				// Discover descriptors (required for notifications)
				if _, err := p.DiscoverDescriptors(nil, c); err != nil {
					return nil, fmt.Errorf("failed to discover descriptors: %w", err)
				}
				chars[d.ID.String()] = c
			}
		}
	}

	for _, d := range force.Descriptors {
		if _, ok := chars[d.ID.String()]; !ok {
			return nil, fmt.Errorf("characteristic %s (%s) not provided by device", d.Name, d.ID)
		}
	}

	return chars, nil
}

func (t *Transport) matches(id, name string, services []gatt.UUID) bool {

	// Check if the device ID has been overridden
	if t.deviceID != "" {
		return strings.EqualFold(id, t.deviceID)
	}
	if name != "" && strings.EqualFold(name, t.deviceName) {
		return true
	}
	for _, s := range services {
		if s.Equal(toUUID(force.CommandService)) || s.Equal(toUUID(force.ForceService)) {
			return true
		}
	}

	return false
}
