package characteristic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/btforce/pkg/codec"
	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/btforce/pkg/metrics"
)

// ValueHandler is called with every decoded notification value
type ValueHandler func(value any, receivedAt time.Time)

// Characteristic denotes a data point of the device, bound to an open connection
type Characteristic struct {
	desc      force.Descriptor
	conn      force.Connection
	transport force.Transport

	sub   force.Subscription
	subMu sync.Mutex

	logger force.Logger
}

// New binds a descriptor to a connection, executing functional options, if any
func New(transport force.Transport, conn force.Connection, desc force.Descriptor, options ...func(*Characteristic)) *Characteristic {
	c := &Characteristic{
		desc:      desc,
		conn:      conn,
		transport: transport,
		logger:    &force.NullLogger{},
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// WithLogger sets the logger
func WithLogger(logger force.Logger) func(*Characteristic) {
	return func(c *Characteristic) {
		c.logger = logger
	}
}

// Descriptor returns the bound descriptor
func (c *Characteristic) Descriptor() force.Descriptor {
	return c.desc
}

// Write encodes a value and writes it to the device
func (c *Characteristic) Write(ctx context.Context, value any) error {
	data, err := codec.Encode(value, c.desc.Type)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", c.desc.Name, err)
	}

	if err := c.transport.WriteValue(ctx, c.conn, c.desc, data); err != nil {
		return c.transportError("write", err)
	}

	return nil
}

// WriteBool writes a boolean value
func (c *Characteristic) WriteBool(ctx context.Context, value bool) error {
	return c.Write(ctx, value)
}

// WriteInt32 writes an integer value
func (c *Characteristic) WriteInt32(ctx context.Context, value int32) error {
	return c.Write(ctx, value)
}

// WriteFloat32 writes a floating point value
func (c *Characteristic) WriteFloat32(ctx context.Context, value float32) error {
	return c.Write(ctx, value)
}

// Read reads and decodes the current value from the device
func (c *Characteristic) Read(ctx context.Context) (any, error) {
	data, err := c.transport.ReadValue(ctx, c.conn, c.desc)
	if err != nil {
		return nil, c.transportError("read", err)
	}

	value, err := codec.Decode(data, c.desc.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to decode value of %s: %w", c.desc.Name, err)
	}

	return value, nil
}

// Subscribe enables notifications, calling fn for every value received. Notifications that
// cannot be decoded are dropped.
func (c *Characteristic) Subscribe(fn ValueHandler) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.sub != nil {
		return fmt.Errorf("already subscribed to %s", c.desc.Name)
	}

	sub, err := c.transport.Subscribe(c.conn, c.desc, func(data []byte, receivedAt time.Time) {
		value, err := codec.Decode(data, c.desc.Type)
		if err != nil {
			metrics.NotificationsDropped.WithLabelValues(c.desc.Name, "decode").Inc()
			c.logger.Warnf("dropping notification of %s: %s", c.desc.Name, err)
			return
		}
		metrics.NotificationsReceived.WithLabelValues(c.desc.Name).Inc()
		fn(value, receivedAt)
	})
	if err != nil {
		return c.transportError("subscribe", err)
	}
	c.sub = sub

	return nil
}

// Unsubscribe disables notifications (idempotent)
func (c *Characteristic) Unsubscribe() error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.sub == nil {
		return nil
	}

	sub := c.sub
	c.sub = nil
	if err := c.transport.Unsubscribe(sub); err != nil {
		return c.transportError("unsubscribe", err)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (c *Characteristic) transportError(op string, err error) error {
	var terr *force.TransportError
	if errors.As(err, &terr) {
		return err
	}
	return &force.TransportError{
		Op:  op,
		ID:  c.desc.Name,
		Err: err,
	}
}
