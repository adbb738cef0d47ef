// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package adapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/internal/monitor"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn replays a fixed input and records writes
type fakeConn struct {
	in     *bytes.Reader
	mu     sync.Mutex
	out    bytes.Buffer
	closed atomic.Bool
}

func newFakeConn(input []byte) *fakeConn {
	return &fakeConn{in: bytes.NewReader(input)}
}

func (c *fakeConn) Read(p []byte) (int, error) { return c.in.Read(p) }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out.Bytes()...)
}

type emission struct {
	channel string
	msg     ltd.DeviceMsg
}

type sink struct {
	mu  sync.Mutex
	got []emission
}

func (s *sink) emit(channel string, msg ltd.DeviceMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, emission{channel, msg})
}

func loadProfile(t *testing.T, path string) *config.Profile {
	t.Helper()
	p, err := config.LoadProfile(path)
	require.NoError(t, err)
	return p
}

func encode(t *testing.T, codec ltd.Codec, seq, msgType int, value float64) []byte {
	t.Helper()
	packet, err := codec.EncodePacket(seq, msgType, value)
	require.NoError(t, err)
	return packet
}

func fltsqPacket(version ltd.ProtocolVersion, values []float32) []byte {
	p := []byte{version[0], version[1], byte(ltd.FloatSequenceOverhead + ltd.FloatFieldSize*len(values))}
	for _, v := range values {
		p = binary.LittleEndian.AppendUint32(p, math.Float32bits(v))
	}
	p = binary.LittleEndian.AppendUint16(p, ltd.ComputeCRC16(p))
	return append(p, ltd.TermCR, ltd.TermLF)
}

// ============================================================
// Receive Path Tests
// ============================================================

func TestAdapter_RunDecodesAndComputes(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	codec, err := profile.NewCodec()
	require.NoError(t, err)

	corrupt := encode(t, codec, 9, 2, 1.0)
	corrupt[8] ^= 0x01

	var stream []byte
	stream = append(stream, 0x01, 0x02, 0x03, ltd.TermCR, ltd.TermLF)
	stream = append(stream, encode(t, codec, 5, 2, 2.0)...)
	stream = append(stream, encode(t, codec, 5, 3, 3.0)...)
	stream = append(stream, encode(t, codec, 5, 4, 4.0)...)
	stream = append(stream, corrupt...)

	conn := newFakeConn(stream)
	out := &sink{}
	a, err := FromProfile(profile, conn, out.emit, WithReadBufferSize(7))
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))

	require.Len(t, out.got, 6)
	for _, e := range out.got {
		assert.Equal(t, "LT-CH000_device_msg", e.channel)
		assert.Equal(t, 5, e.msg.SeqNumber)
	}
	assert.Equal(t, "READ_PRESSURE", out.got[2].msg.Config.Name)
	assert.Equal(t, "READ_TEST_CP1", out.got[3].msg.Config.Name)
	assert.InDelta(t, 6.99, out.got[3].msg.MsgValue, 1e-12)
	assert.InDelta(t, 10.0, out.got[4].msg.MsgValue, 1e-12)
	assert.InDelta(t, 0.16, out.got[5].msg.MsgValue, 1e-12)

	stats := a.Statistics()
	assert.Equal(t, uint64(4), stats.TotalPackets)
	assert.Equal(t, uint64(3), stats.ValidPackets)
	assert.Equal(t, uint64(1), stats.CRCErrors)
	assert.Equal(t, uint64(3), stats.ComputedReadings)
}

func TestAdapter_ErrorChannel(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	out := &sink{}
	a, err := FromProfile(profile, newFakeConn(nil), out.emit)
	require.NoError(t, err)

	a.HandleFrame(encode(t, a.Codec(), 1, 14, 0xF0))

	require.Len(t, out.got, 1)
	assert.Equal(t, a.ErrorChannel(), out.got[0].channel)
	assert.Equal(t, "LT-CH000_device_error", out.got[0].channel)
	assert.Equal(t, 240.0, out.got[0].msg.MsgValue)
}

func TestAdapter_ErrorReadingBypassesEngine(t *testing.T) {
	doc := `
model: LT-X
version: "8787"
error_msg_type: 14
channels:
  - {msg_type: 2, name: READ_A, data_type: FLOAT, size_bytes: 4}
  - {msg_type: 14, name: DEVICE_ERROR, data_type: UINT, size_bytes: 1}
vce:
  vars: [READ_A]
  consts: [DEVICE_ERROR]
  computed:
    - {name: OUT, expr: "$READ_A + $DEVICE_ERROR"}
`
	profile, err := config.ParseProfile([]byte(doc))
	require.NoError(t, err)

	out := &sink{}
	a, err := FromProfile(profile, newFakeConn(nil), out.emit)
	require.NoError(t, err)

	a.HandleFrame(encode(t, a.Codec(), 3, 14, 7))

	require.Len(t, out.got, 1)
	assert.Equal(t, a.ErrorChannel(), out.got[0].channel)
	assert.Equal(t, 0.0, a.Engine().Symbols()["$DEVICE_ERROR"])
	assert.Equal(t, -1, a.Engine().CycleSeq())

	// the next cycle computes without the error code
	a.HandleFrame(encode(t, a.Codec(), 4, 2, 5))
	require.Len(t, out.got, 3)
	assert.Equal(t, "READ_OUT", out.got[2].msg.Config.Name)
	assert.InDelta(t, 5.0, out.got[2].msg.MsgValue, 1e-12)
}

func TestAdapter_ConstUpdatesEngine(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	a, err := FromProfile(profile, newFakeConn(nil), nil)
	require.NoError(t, err)

	a.HandleFrame(encode(t, a.Codec(), 1, 0, 50))
	assert.Equal(t, 50.0, a.Engine().Symbols()["$PISTON_PUMP"])
}

func TestAdapter_FloatSequenceAssignsSeq(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-re600.yaml")
	out := &sink{}
	m := monitor.NewMetrics()
	a, err := FromProfile(profile, newFakeConn(nil), out.emit, WithMetrics(m))
	require.NoError(t, err)

	values := make([]float32, 30)
	values[9] = 3  // READ_TPH_Sys_P
	values[10] = 4 // READ_TPH_Sys_Q
	packet := fltsqPacket(ltd.ProtocolVersion{0x99, 0x99}, values)

	a.HandleFrame(packet)
	a.HandleFrame(packet)

	require.Len(t, out.got, 64)
	assert.Equal(t, 1, out.got[0].msg.SeqNumber)
	assert.Equal(t, 2, out.got[32].msg.SeqNumber)
	assert.Equal(t, 100, out.got[30].msg.Config.MsgType)
	assert.InDelta(t, 5.0, out.got[30].msg.MsgValue, 1e-12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CyclesCompleted.WithLabelValues("LT-RE600")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ComputedEmitted.WithLabelValues("LT-RE600")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PacketsDecoded.WithLabelValues("LT-RE600")))
}

func TestAdapter_ForeignVersionIsSilent(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-re600.yaml")
	out := &sink{}
	a, err := FromProfile(profile, newFakeConn(nil), out.emit)
	require.NoError(t, err)

	a.HandleFrame(fltsqPacket(ltd.ProtocolVersion{0x87, 0x87}, make([]float32, 30)))

	assert.Empty(t, out.got)
	assert.Equal(t, uint64(0), a.Statistics().TotalPackets)
}

func TestAdapter_AbandonedCycleCounted(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	m := monitor.NewMetrics()
	a, err := FromProfile(profile, newFakeConn(nil), nil, WithMetrics(m))
	require.NoError(t, err)

	a.HandleFrame(encode(t, a.Codec(), 7, 2, 1))
	a.HandleFrame(encode(t, a.Codec(), 7, 2, 1))
	a.HandleFrame(encode(t, a.Codec(), 7, 3, 1))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesAbandoned.WithLabelValues("LT-CH000")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CyclesCompleted.WithLabelValues("LT-CH000")))
}

func TestAdapter_FrameOverflowCounted(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	a, err := FromProfile(profile, newFakeConn(append([]byte{0x87, 0x87, 0x05}, bytes.Repeat([]byte{0x01}, ltd.MaxPacketSize-3)...)), nil)
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, uint64(1), a.Statistics().FrameOverflows)
}

func TestAdapter_RunRecoversAfterTailFragment(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	codec, err := profile.NewCodec()
	require.NoError(t, err)

	// the connection opened in the middle of a packet
	stream := []byte{0x3F, 0xA1, ltd.TermCR, ltd.TermLF}
	stream = append(stream, encode(t, codec, 1, 14, 1)...)
	stream = append(stream, encode(t, codec, 2, 14, 2)...)

	out := &sink{}
	a, err := FromProfile(profile, newFakeConn(stream), out.emit, WithReadBufferSize(3))
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))

	require.Len(t, out.got, 2)
	assert.Equal(t, 1, out.got[0].msg.SeqNumber)
	assert.Equal(t, 2, out.got[1].msg.SeqNumber)
	assert.Equal(t, uint64(0), a.Statistics().FrameOverflows)
}

func TestAdapter_RunStopsOnCancel(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	local, remote := net.Pipe()
	defer remote.Close()

	a, err := FromProfile(profile, local, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ============================================================
// Send Path Tests
// ============================================================

func decodeWritten(t *testing.T, codec ltd.Codec, data []byte) []ltd.DeviceMsg {
	t.Helper()
	frames, overflows := ltd.NewFramer(codec.Version()).Write(data)
	require.Zero(t, overflows)

	var msgs []ltd.DeviceMsg
	for _, f := range frames {
		m, err := codec.DecodePacket(f)
		require.NoError(t, err)
		msgs = append(msgs, m...)
	}
	return msgs
}

func TestAdapter_SendPacketSequence(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	conn := newFakeConn(nil)
	a, err := FromProfile(profile, conn, nil)
	require.NoError(t, err)

	require.NoError(t, a.SendPacket(12, 10))
	require.NoError(t, a.SendPacket(13, 2))

	msgs := decodeWritten(t, a.Codec(), conn.written())
	require.Len(t, msgs, 2)
	assert.Equal(t, 0, msgs[0].SeqNumber)
	assert.Equal(t, 10.0, msgs[0].MsgValue)
	assert.Equal(t, 1, msgs[1].SeqNumber)
	assert.Equal(t, 2, a.Seq())

	// the counter wraps before reaching 0xFFFF
	a.seq = seqModulus - 1
	require.NoError(t, a.SendPacket(12, 1))
	assert.Equal(t, 0, a.Seq())

	assert.Error(t, a.SendPacket(12, -1))
	assert.Equal(t, 0, a.Seq())
}

func TestAdapter_SendPacketFloatSequenceUnsupported(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-re600.yaml")
	a, err := FromProfile(profile, newFakeConn(nil), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, a.SendPacket(0, 1), ltd.ErrNotImplemented)
}

func TestAdapter_ExecCommand(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	conn := newFakeConn(nil)
	a, err := FromProfile(profile, conn, nil)
	require.NoError(t, err)

	require.NoError(t, a.ExecCommand("CAB"))
	require.NoError(t, a.ExecCommand("CALIBRATE"))
	require.NoError(t, a.ExecCommand("SI 10"))
	require.NoError(t, a.ExecCommand("SET PISTON_PUMP 200"))
	require.NoError(t, a.ExecCommand("  SE 3 "))

	msgs := decodeWritten(t, a.Codec(), conn.written())
	require.Len(t, msgs, 5)

	assert.Equal(t, 15, msgs[0].Config.MsgType)
	assert.Equal(t, 255.0, msgs[0].MsgValue)
	assert.Equal(t, 15, msgs[1].Config.MsgType)
	assert.Equal(t, 12, msgs[2].Config.MsgType)
	assert.Equal(t, 10.0, msgs[2].MsgValue)
	assert.Equal(t, 200.0, msgs[3].MsgValue)
	assert.Equal(t, 13, msgs[4].Config.MsgType)
	assert.Equal(t, 3.0, msgs[4].MsgValue)
}

func TestAdapter_ExecCommandRejects(t *testing.T) {
	profile := loadProfile(t, "../../profiles/lt-ch000.yaml")
	conn := newFakeConn(nil)
	a, err := FromProfile(profile, conn, nil)
	require.NoError(t, err)

	tests := []struct {
		line string
		want error
	}{
		{"", ErrInvalidCommand},
		{"HELLO", ErrInvalidCommand},
		{"SET FOO 1", ErrInvalidCommand},
		{"SET CALIBRATE 1", ErrInvalidCommand},
		{"CALIBRATE 1", ErrInvalidCommand},
		{"SI", ErrInvalidCommand},
		{"SI 1 2", ErrInvalidCommand},
		{"SI abc", ErrCommandValue},
		{"SI 201", ErrCommandValue},
		{"SI -1", ErrCommandValue},
		{"SE 4", ErrCommandValue},
		{"SE NaN", ErrCommandValue},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.ErrorIs(t, a.ExecCommand(tt.line), tt.want)
		})
	}

	assert.Empty(t, conn.written())
	assert.Equal(t, 0, a.Seq())
}
