// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

var testVersion = ProtocolVersion{0x87, 0x87}

// testDriverConfig mirrors the channel table of a syringe pump and scale
// controller
var testDriverConfig = []MsgTypeConfig{
	{MsgType: 0, Name: "PISTON_PUMP", DataType: DataTypeUint, SizeBytes: 4},
	{MsgType: 1, Name: "PERISTALTIC_PUMP", DataType: DataTypeUint, SizeBytes: 1},
	{MsgType: 2, Name: "READ_WEIGHT", DataType: DataTypeFloat, SizeBytes: 4},
	{MsgType: 3, Name: "READ_TEMPERATURE", DataType: DataTypeFloat, SizeBytes: 4},
	{MsgType: 4, Name: "READ_PRESSURE", DataType: DataTypeFloat, SizeBytes: 4},
	{MsgType: 12, Name: "WRITE_PISTON_PUMP", DataType: DataTypeUint, SizeBytes: 4},
	{MsgType: 13, Name: "WRITE_PERISTALTIC_PUMP", DataType: DataTypeUint, SizeBytes: 1},
	{MsgType: 15, Name: "WRITE_RESET_SCALE", DataType: DataTypeCommand, SizeBytes: 1},
	{MsgType: 14, Name: "DEVICE_ERROR", DataType: DataTypeUint, SizeBytes: 1},
}

// wideDriverConfig covers every field representation
var wideDriverConfig = []MsgTypeConfig{
	{MsgType: 0, Name: "I8", DataType: DataTypeInt, SizeBytes: 1},
	{MsgType: 1, Name: "U8", DataType: DataTypeUint, SizeBytes: 1},
	{MsgType: 2, Name: "I16", DataType: DataTypeInt, SizeBytes: 2},
	{MsgType: 3, Name: "U16", DataType: DataTypeUint, SizeBytes: 2},
	{MsgType: 4, Name: "I32", DataType: DataTypeInt, SizeBytes: 4},
	{MsgType: 5, Name: "U32", DataType: DataTypeUint, SizeBytes: 4},
	{MsgType: 6, Name: "F32", DataType: DataTypeFloat, SizeBytes: 4},
	{MsgType: 7, Name: "I64", DataType: DataTypeInt, SizeBytes: 8},
	{MsgType: 8, Name: "U64", DataType: DataTypeUint, SizeBytes: 8},
	{MsgType: 9, Name: "F64", DataType: DataTypeFloat, SizeBytes: 8, Cfg2: 0x5A},
	{MsgType: 10, Name: "CMD", DataType: DataTypeCommand, SizeBytes: 1},
}

func mustDriver(t *testing.T, version ProtocolVersion, table []MsgTypeConfig) *Driver {
	t.Helper()
	d, err := NewDriver(version, table)
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	return d
}

// resealCRC rewrites the CRC field after a test mutates the packet body
func resealCRC(packet []byte) []byte {
	out := make([]byte, len(packet))
	copy(out, packet)
	crc := ComputeCRC16(out[:len(out)-4])
	out[len(out)-4] = byte(crc)
	out[len(out)-3] = byte(crc >> 8)
	return out
}
