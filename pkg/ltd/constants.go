// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

// Package ltd provides a Go implementation of the LTD device packet protocol.
//
// LTD is a compact binary protocol spoken by laboratory instruments
// (temperature controllers, pumps, sensors, electrical meters) over serial
// links. A packet carries exactly one reading or command, identified by a
// 4-bit message type, with a CRC-16 trailer and a CR LF terminator.
// This package provides the fixed-width field codec, the single-reading
// packet codec, the float-sequence codec used by multi-channel meters and a
// delimiter framer for byte streams.
package ltd

// Packet layout
const (
	PacketMinSize = 11 // version(2) + length(1) + seq(2) + cfg(2) + crc(2) + terminator(2)
	DataStart     = 7

	versionOffset = 0
	lengthOffset  = 2
	seqOffset     = 3
	cfg1Offset    = 5
	cfg2Offset    = 6
)

// Float-sequence packet layout
const (
	FloatSequenceOverhead  = 7 // version(2) + length(1) + crc(2) + terminator(2)
	FloatSequenceDataStart = 3
	FloatFieldSize         = 4
)

// Terminator bytes closing every packet
const (
	TermCR = 0x0D
	TermLF = 0x0A
)

// MaxPacketSize is bounded by the single length byte
const MaxPacketSize = 0xFF

// Message type addressing
const (
	MaxHardwareMsgType  = 0x0F // msg_type must fit in 4 bits on the wire
	ComputedMsgTypeBase = 16   // first msg_type reserved for computed channels
	NonTransmitted      = -1   // msg_type of constants that never travel on the wire
)

// DataType is the 2-bit numeric category carried in cfg1
type DataType int

// Data type values
const (
	DataTypeInt     DataType = 0
	DataTypeUint    DataType = 1
	DataTypeFloat   DataType = 2
	DataTypeCommand DataType = 3
)

// Valid returns true if d is one of the four wire data types
func (d DataType) Valid() bool {
	return d >= DataTypeInt && d <= DataTypeCommand
}

func (d DataType) String() string {
	switch d {
	case DataTypeInt:
		return "INT"
	case DataTypeUint:
		return "UINT"
	case DataTypeFloat:
		return "FLOAT"
	case DataTypeCommand:
		return "COMMAND"
	default:
		return "UNKNOWN"
	}
}

// ParseDataType maps the textual name used in device profiles to a DataType
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "INT", "int":
		return DataTypeInt, true
	case "UINT", "uint":
		return DataTypeUint, true
	case "FLOAT", "float":
		return DataTypeFloat, true
	case "COMMAND", "command":
		return DataTypeCommand, true
	}
	return 0, false
}
