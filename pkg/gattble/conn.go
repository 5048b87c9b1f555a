package gattble

import (
	"context"
	"sync"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/gatt"
	"github.com/google/uuid"
)

type conn struct {
	handle force.DeviceHandle
	p      gatt.Peripheral
	chars  map[string]*gatt.Characteristic

	done chan struct{}
	err  error
	once sync.Once

	// serializes requests, the peripheral handles a single ATT request at a time
	opMu sync.Mutex
	mu   sync.Mutex
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
		if cause == nil {
			cause = force.ErrNotConnected
		}
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
	})
}

// do runs a blocking GATT request, giving up once ctx ends or the connection is lost
func (c *conn) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	go func() {
		c.opMu.Lock()
		defer c.opMu.Unlock()
		res <- fn()
	}()

	select {
	case err := <-res:
		return err
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscription struct {
	conn *conn
	char *gatt.Characteristic
	desc force.Descriptor
}

func (s *subscription) Descriptor() force.Descriptor {
	return s.desc
}

func toUUID(id uuid.UUID) gatt.UUID {
	return gatt.MustParseUUID(id.String())
}
