// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package ltd

import (
	"encoding/binary"
	"fmt"
)

// Framer splits a raw byte stream into CR LF terminated frames.
//
// A frame must start with the protocol version bytes; anything before them
// is discarded. Once the version is seen, byte 2 is the declared frame
// length when it is at least PacketMinSize. A terminator seen before that
// length is data, since CRC bytes may legitimately read 0x0D 0x0A, unless
// the buffer ends in a complete packet with a valid CRC; that packet is then
// framed and the bytes before it dropped. A frame that reaches its declared
// length without a terminator was a false start: its first byte is dropped
// and the rest is scanned again, so packets following a fragment are not
// lost.
type Framer struct {
	version ProtocolVersion
	buffer  []byte
	ready   [][]byte
	maxSize int
}

// NewFramer creates a framer for packets starting with version. Frames
// longer than MaxPacketSize are dropped.
func NewFramer(version ProtocolVersion) *Framer {
	return &Framer{
		version: version,
		buffer:  make([]byte, 0, MaxPacketSize),
		maxSize: MaxPacketSize,
	}
}

// Reset discards any partial frame
func (f *Framer) Reset() {
	f.buffer = f.buffer[:0]
	f.ready = nil
}

// Pending returns the number of buffered bytes not yet framed
func (f *Framer) Pending() int {
	return len(f.buffer)
}

// DecodeByte processes a single byte
// Returns a completed frame including its terminator, or nil if incomplete.
// A resync can recover more than one frame at once; the extra frames are
// returned by the following calls, or all at once by Write.
// Returns ErrFrameOverflow if the frame grew past the size limit
func (f *Framer) DecodeByte(b byte) ([]byte, error) {
	err := f.push(b)
	if len(f.ready) == 0 {
		return nil, err
	}
	frame := f.ready[0]
	f.ready = f.ready[1:]
	return frame, err
}

// Write feeds p through the framer and returns every completed frame.
// Overflows are counted and skipped.
func (f *Framer) Write(p []byte) (frames [][]byte, overflows int) {
	for _, b := range p {
		if err := f.push(b); err != nil {
			overflows++
		}
	}
	frames, f.ready = f.ready, nil
	return frames, overflows
}

func (f *Framer) push(b byte) error {
	f.buffer = append(f.buffer, b)
	f.sync()

	n := len(f.buffer)
	terminated := n >= 2 && f.buffer[n-2] == TermCR && f.buffer[n-1] == TermLF

	if n > lengthOffset {
		if size := int(f.buffer[lengthOffset]); size >= PacketMinSize {
			switch {
			case n < size:
				if terminated {
					f.recoverEmbedded()
				}
				return nil
			case terminated:
				f.emit()
			default:
				f.resync()
			}
			return nil
		}
	}

	// no usable length byte, the terminator alone ends the frame
	if terminated {
		f.emit()
		return nil
	}

	if n >= f.maxSize {
		f.buffer = f.buffer[:0]
		return fmt.Errorf("%w: %d bytes without terminator", ErrFrameOverflow, n)
	}

	return nil
}

// sync drops leading bytes until the buffer starts with the version bytes,
// or a prefix of them
func (f *Framer) sync() {
	skip := 0
	for skip < len(f.buffer) && !f.versionPrefix(f.buffer[skip:]) {
		skip++
	}
	if skip > 0 {
		f.buffer = append(f.buffer[:0], f.buffer[skip:]...)
	}
}

func (f *Framer) versionPrefix(p []byte) bool {
	for i := 0; i < len(p) && i < len(f.version); i++ {
		if p[i] != f.version[i] {
			return false
		}
	}
	return true
}

// recoverEmbedded frames a complete packet ending the buffer after a false
// start
func (f *Framer) recoverEmbedded() {
	n := len(f.buffer)
	for k := 1; n-k >= PacketMinSize; k++ {
		cand := f.buffer[k:]
		if cand[0] != f.version[0] || cand[1] != f.version[1] || int(cand[lengthOffset]) != len(cand) {
			continue
		}
		crcOffset := len(cand) - 4
		if binary.LittleEndian.Uint16(cand[crcOffset:]) != ComputeCRC16(cand[:crcOffset]) {
			continue
		}
		f.buffer = append(f.buffer[:0], cand...)
		f.emit()
		return
	}
}

func (f *Framer) emit() {
	frame := make([]byte, len(f.buffer))
	copy(frame, f.buffer)
	f.ready = append(f.ready, frame)
	f.buffer = f.buffer[:0]
}

// resync drops the first byte of a false start and scans the rest again.
// Nested resyncs only replay bytes already buffered, so each byte is
// consumed once by the outer loop.
func (f *Framer) resync() {
	rest := append([]byte(nil), f.buffer[1:]...)
	f.buffer = f.buffer[:0]
	for _, b := range rest {
		f.push(b)
	}
}
