package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType identifies the element type of a stored dataset.
type DType string

// Supported dataset element types.
const (
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
	Uint64  DType = "uint64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// IsInteger reports whether the dtype is one of the integer types.
func (d DType) IsInteger() bool {
	switch d {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	default:
		return false
	}
}

// encoded dtype tokens follow the numpy/zarr-v2 convention: little-endian
// byte order marker + kind + byte size, e.g. "<f8", "<i4", "|u1".
var dtypeTokens = map[DType]string{
	Int8:    "|i1",
	Uint8:   "|u1",
	Int16:   "<i2",
	Uint16:  "<u2",
	Int32:   "<i4",
	Uint32:  "<u4",
	Int64:   "<i8",
	Uint64:  "<u8",
	Float32: "<f4",
	Float64: "<f8",
}

func (d DType) token() string {
	return dtypeTokens[d]
}

func parseDType(token string) (DType, error) {
	for d, t := range dtypeTokens {
		if t == token {
			return d, nil
		}
	}
	return "", fmt.Errorf("store: unsupported dtype %q", token)
}

// SmallestIntDType returns the smallest integer dtype able to hold every
// value in [min, max]. If min is negative the result is signed, so sentinel
// values such as -1 survive the round trip exactly.
func SmallestIntDType(min, max int64) DType {
	if min < 0 {
		switch {
		case min >= math.MinInt8 && max <= math.MaxInt8:
			return Int8
		case min >= math.MinInt16 && max <= math.MaxInt16:
			return Int16
		case min >= math.MinInt32 && max <= math.MaxInt32:
			return Int32
		default:
			return Int64
		}
	}
	switch {
	case max <= math.MaxUint8:
		return Uint8
	case max <= math.MaxUint16:
		return Uint16
	case max <= math.MaxUint32:
		return Uint32
	default:
		return Uint64
	}
}

// encodeFloats writes vals in C order as the given dtype, little endian.
func encodeFloats(vals []float64, d DType) ([]byte, error) {
	sz := d.Size()
	out := make([]byte, len(vals)*sz)
	for i, v := range vals {
		switch d {
		case Float64:
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		case Float32:
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		default:
			return nil, fmt.Errorf("store: cannot encode floats as %s", d)
		}
	}
	return out, nil
}

// encodeInts writes vals in C order as the given dtype, little endian.
func encodeInts(vals []int, d DType) ([]byte, error) {
	sz := d.Size()
	out := make([]byte, len(vals)*sz)
	for i, v := range vals {
		switch d {
		case Int8:
			out[i] = byte(int8(v))
		case Uint8:
			out[i] = byte(uint8(v))
		case Int16:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		case Uint16:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		case Int32:
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		case Uint32:
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		case Int64:
			binary.LittleEndian.PutUint64(out[i*8:], uint64(int64(v)))
		case Uint64:
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		default:
			return nil, fmt.Errorf("store: cannot encode ints as %s", d)
		}
	}
	return out, nil
}

// decodeFloat reads element i of a raw little-endian buffer as float64.
// Integer dtypes are widened; this is how integer datasets surface when a
// caller asks for float values.
func decodeFloat(buf []byte, i int, d DType) float64 {
	if d.IsInteger() {
		return float64(decodeInt(buf, i, d))
	}
	switch d {
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
	}
	return math.NaN()
}

// decodeInt reads element i of a raw little-endian buffer as int.
func decodeInt(buf []byte, i int, d DType) int {
	switch d {
	case Int8:
		return int(int8(buf[i]))
	case Uint8:
		return int(buf[i])
	case Int16:
		return int(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	case Uint16:
		return int(binary.LittleEndian.Uint16(buf[i*2:]))
	case Int32:
		return int(int32(binary.LittleEndian.Uint32(buf[i*4:])))
	case Uint32:
		return int(binary.LittleEndian.Uint32(buf[i*4:]))
	case Int64:
		return int(int64(binary.LittleEndian.Uint64(buf[i*8:])))
	case Uint64:
		return int(binary.LittleEndian.Uint64(buf[i*8:]))
	case Float32, Float64:
		return int(decodeFloat(buf, i, d))
	}
	return 0
}
