// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

// Package capture records emitted readings as a stream of CBOR items and
// reads them back for replay and script analysis
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/labtronic/ltdhub/pkg/vce"
)

// Record is one reading as it was emitted on a channel
type Record struct {
	TimeMs  int64         `cbor:"time_ms"`
	Channel string        `cbor:"channel"`
	Msg     ltd.DeviceMsg `cbor:"msg"`
}

// Time returns the record timestamp
func (r Record) Time() time.Time {
	return time.UnixMilli(r.TimeMs)
}

// Writer appends records to a capture stream. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	count  int
}

// NewWriter writes records to w
func NewWriter(w io.Writer) *Writer {
	cw := &Writer{enc: cbor.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// Create opens path for appending and returns a Writer over it
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return NewWriter(f), nil
}

// Write appends one record
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	w.count++
	return nil
}

// Emit records msg on channel stamped with the current time
func (w *Writer) Emit(channel string, msg ltd.DeviceMsg) error {
	return w.Write(Record{
		TimeMs:  time.Now().UnixMilli(),
		Channel: channel,
		Msg:     msg,
	})
}

// Count returns the number of records written
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying writer if it is closable
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// Reader iterates the records of a capture stream
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads records from r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every record in r
func ReadAll(r io.Reader) ([]Record, error) {
	reader := NewReader(r)
	var out []Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// ReadFile returns every record in the capture file at path
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()
	return ReadAll(f)
}

// DataPoints groups records by sequence number into one data point per
// cycle, in order of first appearance. Each point maps the decimal msg_type
// to its value and carries the seq_number and time_ms of the first record
// of the group. When windowMs is positive only records within windowMs of
// the newest record are used.
func DataPoints(records []Record, windowMs int64) []vce.DataPoint {
	if len(records) == 0 {
		return nil
	}

	var cutoff int64
	if windowMs > 0 {
		newest := records[0].TimeMs
		for _, r := range records[1:] {
			if r.TimeMs > newest {
				newest = r.TimeMs
			}
		}
		cutoff = newest - windowMs
	}

	index := make(map[int]int)
	var points []vce.DataPoint
	for _, r := range records {
		if windowMs > 0 && r.TimeMs < cutoff {
			continue
		}

		seq := r.Msg.SeqNumber
		i, ok := index[seq]
		if !ok {
			i = len(points)
			index[seq] = i
			points = append(points, vce.DataPoint{
				vce.DataPointSeqKey:  float64(seq),
				vce.DataPointTimeKey: float64(r.TimeMs),
			})
		}
		points[i][strconv.Itoa(r.Msg.Config.MsgType)] = r.Msg.MsgValue
	}

	return points
}
