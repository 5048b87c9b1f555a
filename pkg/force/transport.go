package force

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (

	// ErrConnectionLost is signaled when the link to the device drops
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoDevice is returned if no device was found during discovery
	ErrNoDevice = errors.New("no device found")

	// ErrNotConnected is returned when using a connection that is not (or no longer) open
	ErrNotConnected = errors.New("not connected")
)

// TransportError denotes a link-level failure of a transport operation
type TransportError struct {
	Op  string
	ID  string
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("transport %s failed: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s of %s failed: %s", e.Op, e.ID, e.Err)
}

// Unwrap allows errors.Is / errors.As to inspect the cause
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err was caused by the link to the device
func IsTransportError(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr) || errors.Is(err, ErrConnectionLost)
}

// Connection denotes one live session with the device
type Connection interface {

	// Handle returns the handle of the connected device
	Handle() DeviceHandle

	// Done returns a channel that is closed once the connection is closed or lost
	Done() <-chan struct{}

	// Err returns the reason the connection ended (nil while open)
	Err() error
}

// Subscription denotes an active notification subscription
type Subscription interface {
	Descriptor() Descriptor
}

// NotificationHandler is called for every inbound notification payload
type NotificationHandler func(data []byte, receivedAt time.Time)

// Transport denotes the GATT-like operations the controller relies upon
type Transport interface {

	// Connect opens a connection to the device
	Connect(ctx context.Context, handle DeviceHandle) (Connection, error)

	// Disconnect closes the connection (idempotent)
	Disconnect(conn Connection) error

	// WriteValue writes a raw value to a characteristic
	WriteValue(ctx context.Context, conn Connection, d Descriptor, data []byte) error

	// ReadValue reads the raw value of a characteristic
	ReadValue(ctx context.Context, conn Connection, d Descriptor) ([]byte, error)

	// Subscribe enables notifications of a characteristic
	Subscribe(conn Connection, d Descriptor, fn NotificationHandler) (Subscription, error)

	// Unsubscribe disables notifications of a characteristic
	Unsubscribe(sub Subscription) error
}

// Discoverer denotes a device discovery mechanism
type Discoverer interface {

	// Discover scans for the device until it is found or ctx expires (ErrNoDevice)
	Discover(ctx context.Context) (DeviceHandle, error)
}
