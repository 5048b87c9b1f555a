package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name     string
		value    any
		wireType WireType
		expected any
	}{
		{name: "bool true", value: true, wireType: Bool, expected: true},
		{name: "bool false", value: false, wireType: Bool, expected: false},
		{name: "int32 zero", value: int32(0), wireType: Int32, expected: int32(0)},
		{name: "int32 tara default", value: 15, wireType: Int32, expected: int32(15)},
		{name: "int32 negative", value: -42, wireType: Int32, expected: int32(-42)},
		{name: "int32 max", value: int32(math.MaxInt32), wireType: Int32, expected: int32(math.MaxInt32)},
		{name: "int32 min", value: int64(math.MinInt32), wireType: Int32, expected: int32(math.MinInt32)},
		{name: "float32 zero", value: float32(0), wireType: Float32, expected: float32(0)},
		{name: "float32 negative", value: float32(-1.5), wireType: Float32, expected: float32(-1.5)},
		{name: "float32 calibration", value: 9072.6, wireType: Float32, expected: float32(9072.6)},
		{name: "float32 max", value: float32(math.MaxFloat32), wireType: Float32, expected: float32(math.MaxFloat32)},
		{name: "float32 smallest", value: float32(math.SmallestNonzeroFloat32), wireType: Float32, expected: float32(math.SmallestNonzeroFloat32)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := Encode(tc.value, tc.wireType)
			require.NoError(t, err)
			require.Len(t, data, tc.wireType.Width())

			decoded, err := Decode(data, tc.wireType)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, decoded)
		})
	}
}

func TestWireLayout(t *testing.T) {
	data, err := Encode(true, Bool)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, data)

	data, err = Encode(-2, Int32)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xff, 0xff, 0xff}, data)

	data, err = Encode(float32(1), Float32)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, data)
}

func TestDecodeNonZeroBool(t *testing.T) {
	v, err := Decode([]byte{0, 2, 0, 0}, Bool)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestUnsupportedType(t *testing.T) {
	testCases := []struct {
		name     string
		value    any
		wireType WireType
	}{
		{name: "unknown wire type", value: 1, wireType: WireType(42)},
		{name: "zero wire type", value: true, wireType: WireType(0)},
		{name: "string as int32", value: "15", wireType: Int32},
		{name: "int as bool", value: 1, wireType: Bool},
		{name: "bool as float32", value: true, wireType: Float32},
		{name: "int32 overflow", value: int64(math.MaxInt32) + 1, wireType: Int32},
		{name: "float32 overflow", value: math.MaxFloat64, wireType: Float32},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.value, tc.wireType)
			assert.ErrorIs(t, err, ErrUnsupportedType)
		})
	}

	_, err := Decode([]byte{0, 0, 0, 0}, WireType(42))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestMalformedPayload(t *testing.T) {
	for _, wireType := range []WireType{Bool, Int32, Float32} {
		for _, data := range [][]byte{nil, {}, {1, 2, 3}, {1, 2, 3, 4, 5}} {
			_, err := Decode(data, wireType)
			assert.ErrorIs(t, err, ErrMalformedPayload, "%s with %d bytes", wireType, len(data))
		}
	}
}
