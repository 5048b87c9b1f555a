package force

import (
	"fmt"
	"time"

	"github.com/fako1024/btforce/pkg/codec"
	"github.com/google/uuid"
)

// DefaultDeviceName denotes the local name advertised by the force sensor
const DefaultDeviceName = "ForceESP"

// Access denotes the operations supported by a characteristic
type Access int

const (

	// AccessWrite is set for characteristics the controller writes to
	AccessWrite Access = 1 << iota

	// AccessRead is set for characteristics the controller may read
	AccessRead

	// AccessNotify is set for characteristics pushing notifications
	AccessNotify
)

// DeviceHandle denotes an opaque reference to a discovered device
type DeviceHandle struct {
	ID   string
	Name string
}

// String fulfils the Stringer interface
func (h DeviceHandle) String() string {
	if h.Name == "" {
		return h.ID
	}
	return fmt.Sprintf("%s/%s", h.Name, h.ID)
}

// Descriptor denotes a typed, addressable data point (characteristic) of the device
type Descriptor struct {
	Name   string
	ID     uuid.UUID
	Type   codec.WireType
	Access Access
}

// Reading denotes a force measurement at a certain point in time
type Reading struct {
	Value      float64
	ObservedAt time.Time
}

// String fulfils the Stringer interface
func (r Reading) String() string {
	return fmt.Sprintf("%.2f @ %s", r.Value, r.ObservedAt.Format(time.RFC3339Nano))
}

var (

	// CommandService denotes the service carrying the command characteristics
	CommandService = uuid.MustParse("00000000-0000-0000-0000-000000cd1102")

	// ForceService denotes the service carrying the force characteristic
	ForceService = uuid.MustParse("00000000-0000-0000-0000-0000fce04277")

	// Tara triggers a tare using the written number of readings
	Tara = Descriptor{
		Name:   "tara",
		ID:     uuid.MustParse("00000000-0000-0000-0000-000000001001"),
		Type:   codec.Int32,
		Access: AccessWrite,
	}

	// Calibrate sets the load cell divider (not evaluated by current firmware builds)
	Calibrate = Descriptor{
		Name:   "calibrate",
		ID:     uuid.MustParse("00000000-0000-0000-0000-000000001002"),
		Type:   codec.Float32,
		Access: AccessWrite,
	}

	// MeasureEnable toggles the push of force readings
	MeasureEnable = Descriptor{
		Name:   "measure",
		ID:     uuid.MustParse("00000000-0000-0000-0000-000000001003"),
		Type:   codec.Bool,
		Access: AccessWrite,
	}

	// Force pushes force readings while measuring is enabled
	Force = Descriptor{
		Name:   "force",
		ID:     uuid.MustParse("00000000-0000-0000-0000-000000001312"),
		Type:   codec.Float32,
		Access: AccessNotify,
	}

	// Descriptors lists all characteristics bound per connection
	Descriptors = []Descriptor{Tara, Calibrate, MeasureEnable, Force}
)
