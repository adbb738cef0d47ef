// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

// Package adapter runs one device link: it frames the byte stream, decodes
// packets, feeds the compute engine and emits every reading on the device
// channel. It also encodes outgoing commands.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/internal/monitor"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/labtronic/ltdhub/pkg/vce"
	"github.com/sirupsen/logrus"
)

// DefaultReadBufferSize is the size of each read from the connection
const DefaultReadBufferSize = 256

// seqModulus bounds the outgoing sequence counter
const seqModulus = 0xFFFF

// EmitFunc receives every reading, decoded or computed
type EmitFunc func(channel string, msg ltd.DeviceMsg)

// Adapter owns a device connection and its codec. Run must be called from
// a single goroutine; SendPacket and ExecCommand may be called from others.
type Adapter struct {
	model        string
	conn         io.ReadWriteCloser
	codec        ltd.Codec
	engine       *vce.Engine
	emit         EmitFunc
	log          logrus.FieldLogger
	metrics      *monitor.Metrics
	commands     []config.CommandConfig
	errorMsgType int
	bufSize      int

	channel      string
	errorChannel string

	writeMu sync.Mutex
	seq     int

	statsMu sync.Mutex
	stats   *ltd.Statistics

	// out-of-band sequence for codecs that carry none
	frameSeq int
}

// Option configures an Adapter
type Option func(*Adapter)

// WithEngine routes bound readings into engine
func WithEngine(engine *vce.Engine) Option {
	return func(a *Adapter) {
		a.engine = engine
	}
}

// WithLogger sets the adapter logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Adapter) {
		a.log = log
	}
}

// WithMetrics enables Prometheus counters
func WithMetrics(m *monitor.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// WithCommands sets the operator command table used by ExecCommand
func WithCommands(cmds []config.CommandConfig) Option {
	return func(a *Adapter) {
		a.commands = cmds
	}
}

// WithErrorMsgType sends readings of msgType to the device error channel
func WithErrorMsgType(msgType int) Option {
	return func(a *Adapter) {
		a.errorMsgType = msgType
	}
}

// WithReadBufferSize sets the per-read buffer size
func WithReadBufferSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.bufSize = n
		}
	}
}

// WithChannelFormat overrides the device channel format
func WithChannelFormat(format string) Option {
	return func(a *Adapter) {
		if format != "" {
			a.channel = fmt.Sprintf(format, a.model)
		}
	}
}

// New creates an adapter for model over conn
func New(model string, conn io.ReadWriteCloser, codec ltd.Codec, emit EmitFunc, opts ...Option) *Adapter {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	a := &Adapter{
		model:        model,
		conn:         conn,
		codec:        codec,
		emit:         emit,
		log:          quiet,
		errorMsgType: ltd.NonTransmitted,
		bufSize:      DefaultReadBufferSize,
		channel:      fmt.Sprintf(vce.DefaultChannelFormat, model),
		errorChannel: model + "_device_error",
		stats:        ltd.NewStatistics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.emit == nil {
		a.emit = func(string, ltd.DeviceMsg) {}
	}
	a.log = a.log.WithField("device", model)

	return a
}

// FromProfile builds the codec, compute engine and command table described
// by profile and returns an adapter over conn
func FromProfile(profile *config.Profile, conn io.ReadWriteCloser, emit EmitFunc, opts ...Option) (*Adapter, error) {
	codec, err := profile.NewCodec()
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithCommands(profile.Commands),
		WithChannelFormat(profile.VCE.ChannelFormat),
	}
	if profile.ErrorMsgType != nil {
		base = append(base, WithErrorMsgType(*profile.ErrorMsgType))
	}

	a := New(profile.Model, conn, codec, emit, append(base, opts...)...)

	if profile.HasVCE() {
		engine, err := profile.NewEngine(a.computedOutput, a.log)
		if err != nil {
			return nil, err
		}
		a.engine = engine
	}

	return a, nil
}

// Model returns the device model label
func (a *Adapter) Model() string {
	return a.model
}

// Channel returns the channel decoded readings are emitted on
func (a *Adapter) Channel() string {
	return a.channel
}

// ErrorChannel returns the channel device error readings are emitted on
func (a *Adapter) ErrorChannel() string {
	return a.errorChannel
}

// Codec returns the packet codec
func (a *Adapter) Codec() ltd.Codec {
	return a.codec
}

// Engine returns the compute engine, or nil
func (a *Adapter) Engine() *vce.Engine {
	return a.engine
}

// Run reads from the connection until ctx is done or the connection fails.
// Closing the context closes the connection.
func (a *Adapter) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		a.conn.Close()
	})
	defer stop()

	a.log.Info("Device link started")

	framer := ltd.NewFramer(a.codec.Version())
	buf := make([]byte, a.bufSize)

	for {
		n, err := a.conn.Read(buf)
		if n > 0 {
			a.feed(framer, buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				a.log.Info("Device link closed")
				return nil
			}
			return fmt.Errorf("%s read: %w", a.model, err)
		}
	}
}

func (a *Adapter) feed(framer *ltd.Framer, p []byte) {
	if a.metrics != nil {
		a.metrics.BytesReceived.WithLabelValues(a.model).Add(float64(len(p)))
	}

	frames, overflows := framer.Write(p)
	if overflows > 0 {
		a.statsMu.Lock()
		a.stats.FrameOverflows += uint64(overflows)
		a.statsMu.Unlock()
		if a.metrics != nil {
			a.metrics.FrameOverflows.WithLabelValues(a.model).Add(float64(overflows))
		}
		a.log.WithField("count", overflows).Warn(ltd.ErrFrameOverflow.Error())
	}

	for _, frame := range frames {
		a.HandleFrame(frame)
	}
}

// HandleFrame decodes one terminated frame and dispatches its readings.
// Frames that do not start with the codec's version are dropped silently.
func (a *Adapter) HandleFrame(frame []byte) {
	if !a.codec.Version().Matches(frame) {
		a.log.WithField("len", len(frame)).Debug("Dropped frame with foreign version")
		return
	}

	start := time.Now()
	msgs, err := a.codec.DecodePacket(frame)
	if a.metrics != nil {
		a.metrics.ObserveDecode(a.model, err, time.Since(start))
	}

	a.statsMu.Lock()
	a.stats.Update(msgs, err)
	a.statsMu.Unlock()

	if err != nil {
		a.log.WithFields(logrus.Fields{
			"kind":  ltd.ErrorKind(err),
			"frame": ltd.FormatHex(frame),
		}).Errorf("Decode failed: %v", err)
		return
	}

	if _, ok := a.codec.(*ltd.FloatSequenceDriver); ok {
		a.frameSeq = (a.frameSeq + 1) % seqModulus
		for i := range msgs {
			msgs[i].SeqNumber = a.frameSeq
		}
	}

	for _, m := range msgs {
		a.dispatch(m)
	}
}

func (a *Adapter) dispatch(m ltd.DeviceMsg) {
	if a.errorMsgType != ltd.NonTransmitted && m.Config.MsgType == a.errorMsgType {
		a.log.WithField("code", m.MsgValue).Warn("Device reported an error")
		a.emit(a.errorChannel, m)
		return
	}
	a.emit(a.channel, m)

	if a.engine == nil || !a.engine.Binds(m.Config.MsgType) {
		return
	}

	res, err := a.engine.LoadDeviceMsg(m)
	switch {
	case errors.Is(err, vce.ErrInvalidMsgTypeSequence):
		if a.metrics != nil {
			a.metrics.CyclesAbandoned.WithLabelValues(a.model).Inc()
		}
		a.log.WithField("seq", m.SeqNumber).Warnf("Abandoned compute cycle: %v", err)
	case err != nil:
		a.log.WithFields(logrus.Fields{
			"msg_type": m.Config.MsgType,
			"seq":      m.SeqNumber,
		}).Errorf("Compute engine rejected reading: %v", err)
	case res.Status == vce.Computed:
		if a.metrics != nil {
			a.metrics.CyclesCompleted.WithLabelValues(a.model).Inc()
		}
	}
}

// computedOutput is the engine's output function
func (a *Adapter) computedOutput(channel string, payload vce.Payload) {
	a.statsMu.Lock()
	a.stats.ComputedReadings++
	a.statsMu.Unlock()
	if a.metrics != nil {
		a.metrics.ComputedEmitted.WithLabelValues(a.model).Inc()
	}
	a.emit(channel, payload.DeviceMsg)
}

// SendPacket encodes value for msgType with the next sequence number and
// writes it to the device
func (a *Adapter) SendPacket(msgType int, value float64) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	packet, err := a.codec.EncodePacket(a.seq, msgType, value)
	if err != nil {
		return fmt.Errorf("encode msg_type %d: %w", msgType, err)
	}

	a.log.WithFields(logrus.Fields{
		"msg_type": msgType,
		"seq":      a.seq,
	}).Debugf("Writing: %s", ltd.FormatHex(packet))

	if _, err := a.conn.Write(packet); err != nil {
		return fmt.Errorf("%s write: %w", a.model, err)
	}

	a.seq = (a.seq + 1) % seqModulus
	if a.metrics != nil {
		a.metrics.PacketsSent.WithLabelValues(a.model).Inc()
	}
	return nil
}

// Seq returns the sequence number the next packet will carry
func (a *Adapter) Seq() int {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.seq
}

// Statistics returns a snapshot of the link counters
func (a *Adapter) Statistics() ltd.Statistics {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	s := *a.stats
	s.CalculateRates()
	return s
}

// Close closes the connection
func (a *Adapter) Close() error {
	return a.conn.Close()
}
