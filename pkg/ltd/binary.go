// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrValueOutOfRange is returned when a value does not fit the target field
var ErrValueOutOfRange = errors.New("value out of range for field")

// ParserKind identifies a fixed-width little-endian numeric representation
type ParserKind int

// Parser kinds
const (
	ParserInt8 ParserKind = iota + 1
	ParserUint8
	ParserInt16
	ParserUint16
	ParserInt32
	ParserUint32
	ParserFloat32
	ParserInt64
	ParserUint64
	ParserFloat64
)

var parserNames = map[ParserKind]string{
	ParserInt8:    "int8",
	ParserUint8:   "uint8",
	ParserInt16:   "int16",
	ParserUint16:  "uint16",
	ParserInt32:   "int32",
	ParserUint32:  "uint32",
	ParserFloat32: "float32",
	ParserInt64:   "int64",
	ParserUint64:  "uint64",
	ParserFloat64: "float64",
}

func (k ParserKind) String() string {
	if name, ok := parserNames[k]; ok {
		return name
	}
	return "unknown"
}

// parsersMap resolves (size_bytes, data_type) to a representation.
// FLOAT has no 1 or 2 byte form, COMMAND only exists as a single byte.
var parsersMap = map[int]map[DataType]ParserKind{
	1: {
		DataTypeInt:     ParserInt8,
		DataTypeUint:    ParserUint8,
		DataTypeCommand: ParserUint8,
	},
	2: {
		DataTypeInt:  ParserInt16,
		DataTypeUint: ParserUint16,
	},
	4: {
		DataTypeInt:   ParserInt32,
		DataTypeUint:  ParserUint32,
		DataTypeFloat: ParserFloat32,
	},
	8: {
		DataTypeInt:   ParserInt64,
		DataTypeUint:  ParserUint64,
		DataTypeFloat: ParserFloat64,
	},
}

// GetBinaryParser maps a field size and data type to its representation
func GetBinaryParser(sizeBytes int, dataType DataType) (ParserKind, error) {
	bySize, ok := parsersMap[sizeBytes]
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes", ErrUnsupportedSize, sizeBytes)
	}
	kind, ok := bySize[dataType]
	if !ok {
		return 0, fmt.Errorf("%w: data_type=%d, size_bytes=%d", ErrNoParserForCombination, dataType, sizeBytes)
	}
	return kind, nil
}

// BinParse reinterprets buf (len(buf) == field size) as the numeric type.
// 1 and 2 byte buffers requested as FLOAT are rejected instead of being
// read as an unrelated integer width.
func BinParse(buf []byte, dataType DataType) (float64, error) {
	if dataType == DataTypeFloat && (len(buf) == 1 || len(buf) == 2) {
		return 0, fmt.Errorf("%w: buffer size %d", ErrFloatBufferSize, len(buf))
	}

	kind, err := GetBinaryParser(len(buf), dataType)
	if err != nil {
		return 0, err
	}

	switch kind {
	case ParserInt8:
		return float64(int8(buf[0])), nil
	case ParserUint8:
		return float64(buf[0]), nil
	case ParserInt16:
		return float64(int16(binary.LittleEndian.Uint16(buf))), nil
	case ParserUint16:
		return float64(binary.LittleEndian.Uint16(buf)), nil
	case ParserInt32:
		return float64(int32(binary.LittleEndian.Uint32(buf))), nil
	case ParserUint32:
		return float64(binary.LittleEndian.Uint32(buf)), nil
	case ParserFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
	case ParserInt64:
		return float64(int64(binary.LittleEndian.Uint64(buf))), nil
	case ParserUint64:
		return float64(binary.LittleEndian.Uint64(buf)), nil
	case ParserFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNoParserForCombination, kind)
}

// GenDataPayload writes value into a new little-endian buffer of the
// representation selected by dataType and sizeBytes. Integer kinds
// truncate toward zero and reject values outside their range.
func GenDataPayload(dataType DataType, sizeBytes int, value float64) ([]byte, error) {
	kind, err := GetBinaryParser(sizeBytes, dataType)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, sizeBytes)

	if kind == ParserFloat32 {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(value)))
		return buf, nil
	}
	if kind == ParserFloat64 {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(value))
		return buf, nil
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
	}
	v := math.Trunc(value)

	switch kind {
	case ParserInt8:
		if v < math.MinInt8 || v > math.MaxInt8 {
			return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
		}
		buf[0] = byte(int8(v))
	case ParserUint8:
		if v < 0 || v > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
		}
		buf[0] = uint8(v)
	case ParserInt16:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
		}
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
	case ParserUint16:
		if v < 0 || v > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
		}
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case ParserInt32:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
		}
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	case ParserUint32:
		if v < 0 || v > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
		}
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case ParserInt64:
		// 2^63 is the first float64 above MaxInt64
		if v < math.MinInt64 || v >= 9223372036854775808.0 {
			return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
		}
		binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
	case ParserUint64:
		if v < 0 || v >= 18446744073709551616.0 {
			return nil, fmt.Errorf("%w: %v as %s", ErrValueOutOfRange, value, kind)
		}
		binary.LittleEndian.PutUint64(buf, uint64(v))
	}

	return buf, nil
}

// U16ToBytes packs v as a little-endian 16-bit value
func U16ToBytes(v int) ([]byte, error) {
	if v < 0 || v > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidU16, v)
	}
	return []byte{byte(v & 0xFF), byte((v >> 8) & 0xFF)}, nil
}

// BytesToU16 unpacks a little-endian 16-bit value
func BytesToU16(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("%w: expected 2 bytes, got %d", ErrInvalidU16, len(b))
	}
	return binary.LittleEndian.Uint16(b), nil
}
