// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"errors"
	"fmt"
)

// Packet format errors
var (
	ErrPacketTooSmall        = errors.New("packet too small")
	ErrInvalidPacketSize     = errors.New("invalid packet size")
	ErrInvalidPacketSizeByte = errors.New("invalid packet size byte")
	ErrInvalidVersionBytes   = errors.New("invalid version bytes")
	ErrInvalidCRC16          = errors.New("invalid CRC-16")
	ErrInvalidDataTypeBits   = errors.New("invalid data type bits")
	ErrInvalidDataLengthBits = errors.New("invalid data length bits")
	ErrInvalidMsgTypeBits    = errors.New("invalid msg type bits")
	ErrFrameOverflow         = errors.New("frame exceeds max packet size")
)

// Field and domain errors
var (
	ErrUnknownMsgType         = errors.New("unknown msg_type")
	ErrUnsupportedSize        = errors.New("data size is not supported")
	ErrNoParserForCombination = errors.New("no binary parser for data type and size")
	ErrFloatBufferSize        = errors.New("can not parse buffer to FLOAT")
	ErrInvalidU16             = errors.New("number is not a valid u16")
	ErrNotImplemented         = errors.New("not implemented")
)

// FormatError reports a malformed packet. Msg is a short description and
// Detail carries the conflicting values for diagnostics.
type FormatError struct {
	Kind   error
	Msg    string
	Detail string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	if e.Detail == "" {
		return e.Msg
	}
	return e.Msg + " (" + e.Detail + ")"
}

// Unwrap lets errors.Is match the sentinel kind
func (e *FormatError) Unwrap() error {
	return e.Kind
}

func formatError(kind error, format string, args ...interface{}) *FormatError {
	return &FormatError{
		Kind:   kind,
		Msg:    kind.Error(),
		Detail: fmt.Sprintf(format, args...),
	}
}
