// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatDeviceMsg formats a message into a human-readable line
func FormatDeviceMsg(m DeviceMsg) string {
	name := m.Config.Name
	if name == "" {
		name = "UNKNOWN"
	}

	return fmt.Sprintf("%s (%d) seq=%d %s = %s [%s]",
		name, m.Config.MsgType, m.SeqNumber, FormatFieldType(m.Config), FormatValue(m), m.B64MsgValue)
}

// FormatFieldType returns the data type and width, e.g. FLOAT32
func FormatFieldType(cfg MsgTypeConfig) string {
	if cfg.DataType == DataTypeCommand {
		return "COMMAND"
	}
	return fmt.Sprintf("%s%d", cfg.DataType, cfg.SizeBytes*8)
}

// FormatValue renders the value the way its channel type reads best
func FormatValue(m DeviceMsg) string {
	switch m.Config.DataType {
	case DataTypeFloat:
		return strconv.FormatFloat(m.MsgValue, 'f', -1, 64)
	case DataTypeCommand:
		return fmt.Sprintf("0x%02X", int64(m.MsgValue))
	default:
		return strconv.FormatFloat(m.MsgValue, 'f', 0, 64)
	}
}

// FormatHex formats raw bytes as space separated hex
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// ParseHex parses a hex string, spaces and an optional 0x prefix are ignored
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.Join(strings.Fields(s), "")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd number of hex digits: %d", len(s))
	}

	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex at offset %d: %w", 2*i, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}
