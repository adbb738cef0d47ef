// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks decode results and error rates for one link
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets     uint64
	ValidPackets     uint64
	CRCErrors        uint64
	SizeErrors       uint64
	VersionErrors    uint64
	ConfigErrors     uint64
	OtherErrors      uint64
	FrameOverflows   uint64
	DecodedReadings  uint64
	ComputedReadings uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one decode
func (s *Statistics) Update(msgs []DeviceMsg, decodeErr error) {
	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	if decodeErr == nil {
		s.ValidPackets++
		s.DecodedReadings += uint64(len(msgs))
		return
	}

	switch ErrorKind(decodeErr) {
	case "crc":
		s.CRCErrors++
	case "size":
		s.SizeErrors++
	case "version":
		s.VersionErrors++
	case "config":
		s.ConfigErrors++
	default:
		s.OtherErrors++
	}
}

// ErrorKind buckets a decode error into a short label for counters
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCRC16):
		return "crc"
	case errors.Is(err, ErrPacketTooSmall),
		errors.Is(err, ErrInvalidPacketSize),
		errors.Is(err, ErrInvalidPacketSizeByte):
		return "size"
	case errors.Is(err, ErrInvalidVersionBytes):
		return "version"
	case errors.Is(err, ErrInvalidDataTypeBits),
		errors.Is(err, ErrInvalidDataLengthBits),
		errors.Is(err, ErrInvalidMsgTypeBits):
		return "config"
	case errors.Is(err, ErrFrameOverflow):
		return "overflow"
	default:
		return "other"
	}
}

// Errors returns the total number of failed decodes
func (s *Statistics) Errors() uint64 {
	return s.CRCErrors + s.SizeErrors + s.VersionErrors + s.ConfigErrors + s.OtherErrors
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.Errors()+s.FrameOverflows) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalPackets == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, percent(s.ValidPackets))

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.SizeErrors > 0 {
		result += fmt.Sprintf("Size Errors:     %8d (%.1f%%)\n", s.SizeErrors, percent(s.SizeErrors))
	}
	if s.VersionErrors > 0 {
		result += fmt.Sprintf("Version Errors:  %8d (%.1f%%)\n", s.VersionErrors, percent(s.VersionErrors))
	}
	if s.ConfigErrors > 0 {
		result += fmt.Sprintf("Config Errors:   %8d (%.1f%%)\n", s.ConfigErrors, percent(s.ConfigErrors))
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d (%.1f%%)\n", s.OtherErrors, percent(s.OtherErrors))
	}
	if s.FrameOverflows > 0 {
		result += fmt.Sprintf("Frame Overflows: %8d\n", s.FrameOverflows)
	}

	result += fmt.Sprintf("Readings:        %8d decoded, %d computed\n", s.DecodedReadings, s.ComputedReadings)
	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
