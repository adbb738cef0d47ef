// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// FloatSequenceDriver decodes packets carrying one float32 per channel, in
// table order, with no sequence number or config bytes.
type FloatSequenceDriver struct {
	version ProtocolVersion
	table   []MsgTypeConfig
}

// NewFloatSequenceDriver creates a float-sequence codec. Every channel must
// be a 4-byte FLOAT and the packet must fit the one-byte length field.
func NewFloatSequenceDriver(version ProtocolVersion, table []MsgTypeConfig) (*FloatSequenceDriver, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("%w: empty channel table", ErrInvalidDriverConfig)
	}
	if FloatSequenceOverhead+FloatFieldSize*len(table) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d channels exceed max packet size", ErrInvalidDriverConfig, len(table))
	}
	for _, cfg := range table {
		if cfg.DataType != DataTypeFloat || cfg.SizeBytes != FloatFieldSize {
			return nil, fmt.Errorf("%w: %s must be a %d-byte FLOAT", ErrInvalidDriverConfig, cfg.Name, FloatFieldSize)
		}
	}

	d := &FloatSequenceDriver{
		version: version,
		table:   make([]MsgTypeConfig, len(table)),
	}
	copy(d.table, table)
	return d, nil
}

// Version returns the protocol version the driver is bound to
func (d *FloatSequenceDriver) Version() ProtocolVersion {
	return d.version
}

// Table returns a copy of the channel table in field order
func (d *FloatSequenceDriver) Table() []MsgTypeConfig {
	out := make([]MsgTypeConfig, len(d.table))
	copy(out, d.table)
	return out
}

// PacketSize returns the exact wire size of one packet
func (d *FloatSequenceDriver) PacketSize() int {
	return FloatSequenceOverhead + FloatFieldSize*len(d.table)
}

// EncodePacket is not supported, these devices are read-only
func (d *FloatSequenceDriver) EncodePacket(seqNumber int, msgType int, value float64) ([]byte, error) {
	return nil, fmt.Errorf("float sequence encode: %w", ErrNotImplemented)
}

// DecodePacket returns one message per channel. Values are rounded to two
// decimals and SeqNumber is left at zero for the caller to assign.
func (d *FloatSequenceDriver) DecodePacket(packet []byte) ([]DeviceMsg, error) {
	expected := d.PacketSize()
	if len(packet) != expected {
		return nil, formatError(ErrInvalidPacketSize, "packet.length=%d, expected=%d", len(packet), expected)
	}
	if len(packet) != int(packet[lengthOffset]) {
		return nil, formatError(ErrInvalidPacketSizeByte, "packet[2]=%d, packet.length=%d", packet[lengthOffset], len(packet))
	}
	if !d.version.Matches(packet) {
		return nil, formatError(ErrInvalidVersionBytes, "packet[0:2]=0x%02X%02X, expected=%s", packet[0], packet[1], d.version)
	}

	crcOffset := len(packet) - 4
	packetCRC := binary.LittleEndian.Uint16(packet[crcOffset : crcOffset+2])
	computedCRC := ComputeCRC16(packet[:crcOffset])
	if packetCRC != computedCRC {
		return nil, formatError(ErrInvalidCRC16, "packet_crc16=0x%04X, computed_crc16=0x%04X", packetCRC, computedCRC)
	}

	msgs := make([]DeviceMsg, 0, len(d.table))
	for i, cfg := range d.table {
		start := FloatSequenceDataStart + i*FloatFieldSize
		field := packet[start : start+FloatFieldSize]

		value, err := BinParse(field, DataTypeFloat)
		if err != nil {
			return nil, fmt.Errorf("field %d (%s): %w", i, cfg.Name, err)
		}

		msgs = append(msgs, DeviceMsg{
			SeqNumber:   0,
			MsgValue:    roundTo2(value),
			B64MsgValue: base64.StdEncoding.EncodeToString(field),
			Config:      cfg,
		})
	}

	return msgs, nil
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
