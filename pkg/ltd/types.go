// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"encoding/base64"
	"fmt"
)

// ProtocolVersion is the 2-byte header identifying a device packet dialect
type ProtocolVersion [2]byte

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("0x%02X%02X", v[0], v[1])
}

// Matches returns true if the first two bytes of b equal the version
func (v ProtocolVersion) Matches(b []byte) bool {
	return len(b) >= 2 && b[0] == v[0] && b[1] == v[1]
}

// MsgTypeConfig describes one logical channel a device can carry
type MsgTypeConfig struct {
	MsgType   int      `json:"msg_type" cbor:"msg_type"`
	Name      string   `json:"msg_name" cbor:"msg_name"`
	DataType  DataType `json:"data_type" cbor:"data_type"`
	SizeBytes int      `json:"size_bytes" cbor:"size_bytes"`
	Cfg2      uint8    `json:"cfg2" cbor:"cfg2"`
}

// IsHardware returns true if the channel is addressable on the wire
func (c MsgTypeConfig) IsHardware() bool {
	return c.MsgType >= 0 && c.MsgType <= MaxHardwareMsgType
}

// DeviceMsg is one decoded reading, or a reading about to be encoded.
// Values are passed by copy and never mutated after construction.
type DeviceMsg struct {
	SeqNumber   int           `json:"seq_number" cbor:"seq_number"`
	MsgValue    float64       `json:"msg_value" cbor:"msg_value"`
	B64MsgValue string        `json:"b64_msg_value" cbor:"b64_msg_value"`
	Config      MsgTypeConfig `json:"config" cbor:"config"`
}

// RawValue returns the payload bytes carried in B64MsgValue
func (m DeviceMsg) RawValue() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.B64MsgValue)
}

// Codec is implemented by every packet dialect
type Codec interface {
	Version() ProtocolVersion
	EncodePacket(seqNumber int, msgType int, value float64) ([]byte, error)
	DecodePacket(packet []byte) ([]DeviceMsg, error)
}
