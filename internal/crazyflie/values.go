package crazyflie

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Log variable storage types as reported by the log TOC
const (
	LogUint8   uint8 = 1
	LogUint16  uint8 = 2
	LogUint32  uint8 = 3
	LogInt8    uint8 = 4
	LogInt16   uint8 = 5
	LogInt32   uint8 = 6
	LogFloat   uint8 = 7
	LogFloat16 uint8 = 8
)

// Parameter type bits as reported by the param TOC
const (
	paramTypeMask     uint8 = 0x0F
	paramReadOnlyFlag uint8 = 0x40

	paramInt8    uint8 = 0x00
	paramInt16   uint8 = 0x01
	paramInt32   uint8 = 0x02
	paramInt64   uint8 = 0x03
	paramFloat16 uint8 = 0x05
	paramFloat   uint8 = 0x06
	paramDouble  uint8 = 0x07
	paramUint8   uint8 = 0x08
	paramUint16  uint8 = 0x09
	paramUint32  uint8 = 0x0A
	paramUint64  uint8 = 0x0B
)

func logTypeSize(t uint8) (int, error) {
	switch t {
	case LogUint8, LogInt8:
		return 1, nil
	case LogUint16, LogInt16, LogFloat16:
		return 2, nil
	case LogUint32, LogInt32, LogFloat:
		return 4, nil
	default:
		return 0, fmt.Errorf("unknown log type %d", t)
	}
}

// decodeLogValue reads one value of log type t from the start of b
func decodeLogValue(t uint8, b []byte) (float64, int, error) {
	size, err := logTypeSize(t)
	if err != nil {
		return 0, 0, err
	}
	if len(b) < size {
		return 0, 0, fmt.Errorf("need %d bytes for log type %d, have %d", size, t, len(b))
	}

	var v float64
	switch t {
	case LogUint8:
		v = float64(b[0])
	case LogInt8:
		v = float64(int8(b[0]))
	case LogUint16:
		v = float64(binary.LittleEndian.Uint16(b))
	case LogInt16:
		v = float64(int16(binary.LittleEndian.Uint16(b)))
	case LogFloat16:
		v = float64(halfToFloat(binary.LittleEndian.Uint16(b)))
	case LogUint32:
		v = float64(binary.LittleEndian.Uint32(b))
	case LogInt32:
		v = float64(int32(binary.LittleEndian.Uint32(b)))
	case LogFloat:
		v = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}

	return v, size, nil
}

func paramTypeSize(t uint8) (int, error) {
	switch t & paramTypeMask {
	case paramInt8, paramUint8:
		return 1, nil
	case paramInt16, paramUint16, paramFloat16:
		return 2, nil
	case paramInt32, paramUint32, paramFloat:
		return 4, nil
	case paramInt64, paramUint64, paramDouble:
		return 8, nil
	default:
		return 0, fmt.Errorf("unknown param type 0x%02x", t)
	}
}

func decodeParamValue(t uint8, b []byte) (float64, error) {
	size, err := paramTypeSize(t)
	if err != nil {
		return 0, err
	}
	if len(b) < size {
		return 0, fmt.Errorf("need %d bytes for param type 0x%02x, have %d", size, t, len(b))
	}

	switch t & paramTypeMask {
	case paramInt8:
		return float64(int8(b[0])), nil
	case paramUint8:
		return float64(b[0]), nil
	case paramInt16:
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case paramUint16:
		return float64(binary.LittleEndian.Uint16(b)), nil
	case paramFloat16:
		return float64(halfToFloat(binary.LittleEndian.Uint16(b))), nil
	case paramInt32:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case paramUint32:
		return float64(binary.LittleEndian.Uint32(b)), nil
	case paramFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case paramInt64:
		return float64(int64(binary.LittleEndian.Uint64(b))), nil
	case paramUint64:
		return float64(binary.LittleEndian.Uint64(b)), nil
	default: // paramDouble
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	}
}

func encodeParamValue(t uint8, v float64) ([]byte, error) {
	size, err := paramTypeSize(t)
	if err != nil {
		return nil, err
	}

	b := make([]byte, size)
	switch t & paramTypeMask {
	case paramInt8:
		b[0] = byte(int8(v))
	case paramUint8:
		b[0] = byte(uint8(v))
	case paramInt16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case paramUint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case paramFloat16:
		binary.LittleEndian.PutUint16(b, floatToHalf(float32(v)))
	case paramInt32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case paramUint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case paramFloat:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case paramInt64:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	case paramUint64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	case paramDouble:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}

	return b, nil
}

// halfToFloat converts an IEEE 754 binary16 value
func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := int32(h>>10) & 0x1F
	frac := uint32(h) & 0x3FF

	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)

	case exp == 0: // subnormal
		e := int32(1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3FF
		return math.Float32frombits(sign | uint32(e+112)<<23 | frac<<13)

	case exp == 0x1F:
		return math.Float32frombits(sign | 0xFF<<23 | frac<<13)
	}

	return math.Float32frombits(sign | uint32(exp+112)<<23 | frac<<13)
}

// floatToHalf converts to IEEE 754 binary16, truncating the mantissa
func floatToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xFF) - 127 + 15
	frac := bits & 0x7FFFFF

	switch {
	case bits&0x7FFFFFFF == 0:
		return sign
	case exp >= 0x1F:
		return sign | 0x7C00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		frac |= 0x800000
		return sign | uint16(frac>>uint32(14-exp))
	}

	return sign | uint16(exp)<<10 | uint16(frac>>13)
}
