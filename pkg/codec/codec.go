package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WireType denotes the fixed-width binary representation of a characteristic value
type WireType int

const (

	// Bool denotes a boolean, transmitted as a 4-byte integer (1 / 0)
	Bool WireType = iota + 1

	// Int32 denotes a 4-byte signed integer
	Int32

	// Float32 denotes a 4-byte IEEE-754 single precision value
	Float32
)

// width is identical for all supported wire types
const width = 4

var (

	// ErrUnsupportedType is returned if a wire type (or a value for a wire type) cannot be handled
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrMalformedPayload is returned if a payload does not match the width of its wire type
	ErrMalformedPayload = errors.New("malformed payload")
)

// String returns a human-readable name of the wire type
func (t WireType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("WireType(%d)", int(t))
	}
}

// Width returns the number of bytes used by the wire type on the wire
func (t WireType) Width() int {
	if !t.valid() {
		return 0
	}
	return width
}

func (t WireType) valid() bool {
	return t == Bool || t == Int32 || t == Float32
}

// Encode converts a value to its wire representation. All values are sent in
// little-endian byte order, which is the native order of the ESP32 firmware.
func Encode(v any, t WireType) ([]byte, error) {
	buf := make([]byte, width)

	switch t {
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: cannot encode %T as %s", ErrUnsupportedType, v, t)
		}
		if b {
			binary.LittleEndian.PutUint32(buf, 1)
		}
	case Int32:
		i, err := toInt32(v)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(buf, uint32(i))
	case Float32:
		f, err := toFloat32(v)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}

	return buf, nil
}

// Decode converts a wire representation to a value (bool, int32 or float32)
func Decode(data []byte, t WireType) (any, error) {
	if !t.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if len(data) != width {
		return nil, fmt.Errorf("%w: expected %d bytes for %s, got %d", ErrMalformedPayload, width, t, len(data))
	}

	raw := binary.LittleEndian.Uint32(data)
	switch t {
	case Bool:
		return raw != 0, nil
	case Int32:
		return int32(raw), nil
	default:
		return math.Float32frombits(raw), nil
	}
}

////////////////////////////////////////////////////////////////////////////////

func toInt32(v any) (int32, error) {
	var i int64
	switch val := v.(type) {
	case int:
		i = int64(val)
	case int8:
		i = int64(val)
	case int16:
		i = int64(val)
	case int32:
		return val, nil
	case int64:
		i = val
	case uint8:
		i = int64(val)
	case uint16:
		i = int64(val)
	case uint32:
		i = int64(val)
	default:
		return 0, fmt.Errorf("%w: cannot encode %T as %s", ErrUnsupportedType, v, Int32)
	}

	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d overflows %s", ErrUnsupportedType, i, Int32)
	}
	return int32(i), nil
}

func toFloat32(v any) (float32, error) {
	switch val := v.(type) {
	case float32:
		return val, nil
	case float64:
		if !math.IsInf(val, 0) && !math.IsNaN(val) && math.Abs(val) > math.MaxFloat32 {
			return 0, fmt.Errorf("%w: %g overflows %s", ErrUnsupportedType, val, Float32)
		}
		return float32(val), nil
	default:
		return 0, fmt.Errorf("%w: cannot encode %T as %s", ErrUnsupportedType, v, Float32)
	}
}
