// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import "github.com/sigurn/crc16"

// crcTable is CRC-16/X-25: polynomial 0x1021 reflected, seed 0xFFFF,
// result complemented
var crcTable = crc16.MakeTable(crc16.CRC16_X_25)

// ComputeCRC16 computes the CRC-16 checksum carried in every packet trailer
func ComputeCRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
