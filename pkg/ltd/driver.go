// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// ErrInvalidDriverConfig is returned when a channel table can not be served
var ErrInvalidDriverConfig = errors.New("invalid driver config")

// Driver encodes and decodes single-reading packets for one protocol version
type Driver struct {
	version ProtocolVersion
	table   []MsgTypeConfig
	configs map[int]MsgTypeConfig
}

// NewDriver creates a packet codec bound to version and a channel table.
// Every channel must use a 4-bit msg_type and a resolvable field type.
func NewDriver(version ProtocolVersion, table []MsgTypeConfig) (*Driver, error) {
	d := &Driver{
		version: version,
		table:   make([]MsgTypeConfig, 0, len(table)),
		configs: make(map[int]MsgTypeConfig, len(table)),
	}

	names := make(map[string]bool, len(table))
	for _, cfg := range table {
		if !cfg.IsHardware() {
			return nil, fmt.Errorf("%w: msg_type %d (%s) does not fit in 4 bits", ErrInvalidDriverConfig, cfg.MsgType, cfg.Name)
		}
		if _, err := GetBinaryParser(cfg.SizeBytes, cfg.DataType); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDriverConfig, cfg.Name, err)
		}
		if _, dup := d.configs[cfg.MsgType]; dup {
			return nil, fmt.Errorf("%w: duplicate msg_type %d", ErrInvalidDriverConfig, cfg.MsgType)
		}
		if names[cfg.Name] {
			return nil, fmt.Errorf("%w: duplicate msg_name %q", ErrInvalidDriverConfig, cfg.Name)
		}
		names[cfg.Name] = true
		d.configs[cfg.MsgType] = cfg
		d.table = append(d.table, cfg)
	}

	return d, nil
}

// Version returns the protocol version the driver is bound to
func (d *Driver) Version() ProtocolVersion {
	return d.version
}

// Config returns the channel config for msgType
func (d *Driver) Config(msgType int) (MsgTypeConfig, bool) {
	cfg, ok := d.configs[msgType]
	return cfg, ok
}

// Table returns a copy of the channel table in declaration order
func (d *Driver) Table() []MsgTypeConfig {
	out := make([]MsgTypeConfig, len(d.table))
	copy(out, d.table)
	return out
}

// MsgTypeByName returns the msg_type of the named channel, or -1.
// Linear scan over the table, not meant for hot paths.
func (d *Driver) MsgTypeByName(name string) int {
	for _, cfg := range d.table {
		if cfg.Name == name {
			return cfg.MsgType
		}
	}
	return -1
}

// genCfg1 packs data type, log2(size) and msg type into the first config byte:
// bits 7-6 data type, bits 5-4 size exponent, bits 3-0 msg type
func (d *Driver) genCfg1(dataType DataType, sizeBytes int, msgType int) (byte, error) {
	if !dataType.Valid() {
		return 0, fmt.Errorf("%w: data_type=%d", ErrInvalidDataTypeBits, dataType)
	}
	if _, err := GetBinaryParser(sizeBytes, DataTypeInt); err != nil {
		return 0, fmt.Errorf("%w: size_bytes=%d", ErrInvalidDataLengthBits, sizeBytes)
	}
	if _, ok := d.configs[msgType]; !ok || msgType < 0 || msgType > MaxHardwareMsgType {
		return 0, fmt.Errorf("%w: msg_type=%d", ErrInvalidMsgTypeBits, msgType)
	}

	sizeExp := bits.TrailingZeros(uint(sizeBytes))
	return byte(dataType)<<6 | byte(sizeExp)<<4 | byte(msgType), nil
}

// EncodePacket builds a complete wire packet carrying value on msgType
func (d *Driver) EncodePacket(seqNumber int, msgType int, value float64) ([]byte, error) {
	cfg, ok := d.configs[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMsgType, msgType)
	}

	seqBytes, err := U16ToBytes(seqNumber)
	if err != nil {
		return nil, fmt.Errorf("sequence number: %w", err)
	}

	cfg1, err := d.genCfg1(cfg.DataType, cfg.SizeBytes, msgType)
	if err != nil {
		return nil, err
	}

	payload, err := GenDataPayload(cfg.DataType, cfg.SizeBytes, value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", cfg.Name, err)
	}

	length := PacketMinSize + cfg.SizeBytes
	packet := make([]byte, 0, length)
	packet = append(packet, d.version[0], d.version[1], byte(length))
	packet = append(packet, seqBytes...)
	packet = append(packet, cfg1, cfg.Cfg2)
	packet = append(packet, payload...)

	crc := ComputeCRC16(packet)
	packet = binary.LittleEndian.AppendUint16(packet, crc)
	packet = append(packet, TermCR, TermLF)

	return packet, nil
}

// DecodePacket validates and decodes one framed packet. Checks run in a
// fixed order so each failure mode is reported on its own.
// The result always holds a single message.
func (d *Driver) DecodePacket(packet []byte) ([]DeviceMsg, error) {
	// Size checks
	if len(packet) <= PacketMinSize {
		return nil, formatError(ErrPacketTooSmall, "packet.length=%d, min=%d", len(packet), PacketMinSize+1)
	}
	if len(packet) != int(packet[lengthOffset]) {
		return nil, formatError(ErrInvalidPacketSizeByte, "packet[2]=%d, packet.length=%d", packet[lengthOffset], len(packet))
	}

	// Header
	if !d.version.Matches(packet) {
		return nil, formatError(ErrInvalidVersionBytes, "packet[0:2]=0x%02X%02X, expected=%s", packet[0], packet[1], d.version)
	}

	// CRC-16
	crcOffset := len(packet) - 4
	packetCRC := binary.LittleEndian.Uint16(packet[crcOffset : crcOffset+2])
	computedCRC := ComputeCRC16(packet[:crcOffset])
	if packetCRC != computedCRC {
		return nil, formatError(ErrInvalidCRC16, "packet_crc16=0x%04X, computed_crc16=0x%04X", packetCRC, computedCRC)
	}

	seq, err := BytesToU16(packet[seqOffset : seqOffset+2])
	if err != nil {
		return nil, err
	}

	// Config byte 1
	cfg1 := packet[cfg1Offset]
	dataType := DataType(cfg1 >> 6)
	if !dataType.Valid() {
		return nil, formatError(ErrInvalidDataTypeBits, "data_type_bits=%02b", cfg1>>6)
	}
	sizeBytes := 1 << ((cfg1 >> 4) & 0x03)
	if sizeBytes != len(packet)-PacketMinSize {
		return nil, formatError(ErrInvalidDataLengthBits, "data_length_bits=%d, packet data size=%d", sizeBytes, len(packet)-PacketMinSize)
	}
	msgType := int(cfg1 & 0x0F)
	cfg, ok := d.configs[msgType]
	if !ok {
		return nil, formatError(ErrInvalidMsgTypeBits, "msg_type_bits=%04b", msgType)
	}

	payload := packet[DataStart : DataStart+sizeBytes]
	value, err := BinParse(payload, dataType)
	if err != nil {
		return nil, err
	}

	msg := DeviceMsg{
		SeqNumber:   int(seq),
		MsgValue:    value,
		B64MsgValue: base64.StdEncoding.EncodeToString(payload),
		Config: MsgTypeConfig{
			MsgType:   msgType,
			Name:      cfg.Name,
			DataType:  dataType,
			SizeBytes: sizeBytes,
			Cfg2:      packet[cfg2Offset],
		},
	}
	return []DeviceMsg{msg}, nil
}
