package gattble

import (
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/gatt"
)

// WithDeviceID sets the Bluetooth device ID (takes precedence over name and services)
func WithDeviceID(deviceID string) func(*Transport) {
	return func(t *Transport) {
		t.deviceID = deviceID
	}
}

// WithDeviceName sets the Bluetooth device name
func WithDeviceName(deviceName string) func(*Transport) {
	return func(t *Transport) {
		t.deviceName = deviceName
	}
}

// WithScanTimeout sets the maximum duration of a discovery scan
func WithScanTimeout(timeout time.Duration) func(*Transport) {
	return func(t *Transport) {
		t.scanTimeout = timeout
	}
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Transport) {
	return func(t *Transport) {
		t.btDevice = btDevice
	}
}

// WithLogger sets a logger
func WithLogger(logger force.Logger) func(*Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}
