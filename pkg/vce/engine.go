// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package vce

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/sirupsen/logrus"
)

// DefaultChannelFormat names the output channel from the device model
const DefaultChannelFormat = "%s_device_msg"

// noCycle is the cycle sequence before the first VAR arrives, it never
// matches a wire sequence number
const noCycle = -1

// assignment binds one computed parameter to its scope slot
type assignment struct {
	name   string
	slot   int
	expr   *Expr
	config ltd.MsgTypeConfig
}

// Engine assembles cycles of VAR readings and evaluates computed
// parameters once per complete cycle. An Engine is not safe for
// concurrent use; deliver messages for one device from one goroutine.
type Engine struct {
	deviceModel   string
	instanceID    int
	channelFormat string
	out           OutputFunc
	log           logrus.FieldLogger

	params   map[int]ParamConfig // by wire msg_type
	slots    map[string]int      // $symbol to scope slot
	symbols  []string            // scope slot to $symbol
	values   []float64           // persistent symbol table
	varTypes map[int]struct{}
	plan     []assignment

	cycleSeq  int
	patch     []ltd.DeviceMsg
	abandoned bool
}

// Option configures an Engine
type Option func(*Engine)

// WithInstanceID offsets synthetic msg types for a second engine on one device
func WithInstanceID(id int) Option {
	return func(e *Engine) {
		e.instanceID = id
	}
}

// WithChannelFormat overrides the output channel format, it receives the
// device model as its only argument
func WithChannelFormat(format string) Option {
	return func(e *Engine) {
		e.channelFormat = format
	}
}

// WithLogger sets the logger used for cycle diagnostics
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// NewEngine creates an engine over params and computed. Every expression
// is compiled up front; a computed parameter can use $symbols and any
// parameter declared before it.
func NewEngine(params []ParamConfig, computed []ComputedParam, out OutputFunc, deviceModel string, opts ...Option) (*Engine, error) {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	e := &Engine{
		deviceModel:   deviceModel,
		channelFormat: DefaultChannelFormat,
		out:           out,
		log:           quiet,
		params:        make(map[int]ParamConfig),
		slots:         make(map[string]int),
		varTypes:      make(map[int]struct{}),
		cycleSeq:      noCycle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.out == nil {
		e.out = func(string, Payload) {}
	}

	if err := e.bindParams(params); err != nil {
		return nil, err
	}
	if err := e.compile(computed); err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Engine) bindParams(params []ParamConfig) error {
	for _, p := range params {
		if !strings.HasPrefix(p.Symbol, "$") || len(p.Symbol) < 2 {
			return fmt.Errorf("%w: symbol %q must start with '$'", ErrInvalidConfig, p.Symbol)
		}
		if _, dup := e.slots[p.Symbol]; dup {
			return fmt.Errorf("%w: duplicate symbol %q", ErrInvalidConfig, p.Symbol)
		}

		msgType := p.MsgTypeConfig.MsgType
		switch {
		case msgType >= 0:
			if _, dup := e.params[msgType]; dup {
				return fmt.Errorf("%w: msg_type %d bound twice", ErrInvalidConfig, msgType)
			}
			e.params[msgType] = p
		case p.Type == ParamVar:
			return fmt.Errorf("%w: VAR %s needs a transmitted msg_type", ErrInvalidConfig, p.Symbol)
		}

		if p.Type == ParamVar {
			e.varTypes[msgType] = struct{}{}
		}

		var initial float64
		if p.ConstInitValue != nil {
			initial = *p.ConstInitValue
		}
		e.slots[p.Symbol] = len(e.symbols)
		e.symbols = append(e.symbols, p.Symbol)
		e.values = append(e.values, initial)
	}

	return nil
}

func (e *Engine) compile(computed []ComputedParam) error {
	names := make(map[string]int, len(computed))
	msgTypes := make(map[int]string, len(computed))

	for i, cp := range computed {
		if cp.Name == "" || strings.HasPrefix(cp.Name, "$") {
			return fmt.Errorf("%w: computed parameter name %q", ErrInvalidConfig, cp.Name)
		}
		if _, dup := names[cp.Name]; dup {
			return fmt.Errorf("%w: duplicate computed parameter %q", ErrInvalidConfig, cp.Name)
		}

		// only symbols and parameters declared earlier are visible
		resolve := func(name string) (int, bool) {
			if slot, ok := e.slots[name]; ok {
				return slot, true
			}
			slot, ok := names[name]
			return slot, ok
		}
		expr, err := Compile(cp.Expr, resolve)
		if err != nil {
			return fmt.Errorf("computed parameter %s: %w", cp.Name, err)
		}

		msgType := ltd.ComputedMsgTypeBase + e.instanceID*10 + i
		if cp.MsgType != nil {
			msgType = *cp.MsgType
		}
		if other, dup := msgTypes[msgType]; dup {
			return fmt.Errorf("%w: %s and %s share msg_type %d", ErrInvalidConfig, other, cp.Name, msgType)
		}
		msgTypes[msgType] = cp.Name

		slot := len(e.symbols) + i
		names[cp.Name] = slot
		e.plan = append(e.plan, assignment{
			name: cp.Name,
			slot: slot,
			expr: expr,
			config: ltd.MsgTypeConfig{
				MsgType:   msgType,
				Name:      "READ_" + cp.Name,
				DataType:  ltd.DataTypeFloat,
				SizeBytes: 4,
			},
		})
	}

	return nil
}

// Channel returns the output channel name for this engine's device
func (e *Engine) Channel() string {
	return fmt.Sprintf(e.channelFormat, e.deviceModel)
}

// DeviceModel returns the device model label
func (e *Engine) DeviceModel() string {
	return e.deviceModel
}

// Binds returns true if msgType is a VAR or CONST channel of this engine
func (e *Engine) Binds(msgType int) bool {
	_, ok := e.params[msgType]
	return ok
}

// IsVar returns true if msgType is a VAR channel
func (e *Engine) IsVar(msgType int) bool {
	_, ok := e.varTypes[msgType]
	return ok
}

// ComputedConfigs returns the synthetic channel configs in declaration order
func (e *Engine) ComputedConfigs() []ltd.MsgTypeConfig {
	out := make([]ltd.MsgTypeConfig, len(e.plan))
	for i, a := range e.plan {
		out[i] = a.config
	}
	return out
}

// Symbols returns a snapshot of the symbol table
func (e *Engine) Symbols() map[string]float64 {
	out := make(map[string]float64, len(e.symbols))
	for i, s := range e.symbols {
		out[s] = e.values[i]
	}
	return out
}

// CycleSeq returns the sequence number of the cycle being accumulated, or -1
func (e *Engine) CycleSeq() int {
	return e.cycleSeq
}

// PatchLen returns the number of VAR readings held for the current cycle
func (e *Engine) PatchLen() int {
	return len(e.patch)
}

// Reset drops any partial cycle, the symbol table is kept
func (e *Engine) Reset() {
	e.cycleSeq = noCycle
	e.patch = e.patch[:0]
	e.abandoned = false
}

// LoadSymbol sets a symbol directly, for constants that never travel on
// the wire
func (e *Engine) LoadSymbol(symbol string, value float64) error {
	if math.IsNaN(value) {
		return fmt.Errorf("%w: %s", ErrNaNInjection, symbol)
	}
	slot, ok := e.slots[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnboundSymbol, symbol)
	}
	e.values[slot] = value
	return nil
}

// LoadDeviceMsg feeds one decoded reading into the engine.
//
// CONST readings update the symbol table immediately. VAR readings
// accumulate per sequence number; a reading with a new sequence number
// abandons the partial cycle. When every VAR channel has arrived once the
// computed parameters are evaluated and emitted.
func (e *Engine) LoadDeviceMsg(msg ltd.DeviceMsg) (Result, error) {
	if math.IsNaN(msg.MsgValue) {
		return Result{}, fmt.Errorf("%w: %s (%d)", ErrNaNInjection, msg.Config.Name, msg.Config.MsgType)
	}

	msgType := msg.Config.MsgType
	param, ok := e.params[msgType]
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrUnboundMsgType, msgType)
	}

	if _, isVar := e.varTypes[msgType]; !isVar {
		e.values[e.slots[param.Symbol]] = msg.MsgValue
		return Result{Status: ConstLoaded, Seq: msg.SeqNumber}, nil
	}

	if msg.SeqNumber != e.cycleSeq {
		if len(e.patch) > 0 {
			e.log.WithFields(logrus.Fields{
				"device": e.deviceModel,
				"seq":    e.cycleSeq,
				"have":   len(e.patch),
				"want":   len(e.varTypes),
			}).Debug("Abandoned incomplete VCE cycle")
		}
		e.cycleSeq = msg.SeqNumber
		e.patch = append(e.patch[:0], msg)
		e.abandoned = false

		if len(e.patch) < len(e.varTypes) {
			return Result{Status: NewCycleStarted, Seq: msg.SeqNumber}, nil
		}
		return e.completeCycle()
	}

	if e.abandoned {
		return Result{Status: VarDiscarded, Seq: msg.SeqNumber}, nil
	}

	e.patch = append(e.patch, msg)
	if len(e.patch) < len(e.varTypes) {
		return Result{Status: VarLoaded, Seq: msg.SeqNumber}, nil
	}

	return e.completeCycle()
}

func (e *Engine) completeCycle() (Result, error) {
	seen := make(map[int]struct{}, len(e.patch))
	for _, m := range e.patch {
		seen[m.Config.MsgType] = struct{}{}
	}

	valid := len(seen) == len(e.varTypes)
	for t := range e.varTypes {
		if _, ok := seen[t]; !ok {
			valid = false
		}
	}
	if !valid {
		types := make([]int, len(e.patch))
		for i, m := range e.patch {
			types[i] = m.Config.MsgType
		}
		e.patch = e.patch[:0]
		e.abandoned = true
		return Result{}, fmt.Errorf("%w: seq %d carried msg types %v", ErrInvalidMsgTypeSequence, e.cycleSeq, types)
	}

	for _, m := range e.patch {
		e.values[e.slots[e.params[m.Config.MsgType].Symbol]] = m.MsgValue
	}
	e.patch = e.patch[:0]

	return e.compute(e.cycleSeq), nil
}

// compute runs the evaluation plan in a fresh scope and emits one reading
// per computed parameter
func (e *Engine) compute(seq int) Result {
	scope := make([]float64, len(e.symbols)+len(e.plan))
	copy(scope, e.values)

	for _, a := range e.plan {
		scope[a.slot] = a.expr.Eval(scope)
	}

	result := Result{
		Status:  Computed,
		Seq:     seq,
		Values:  make(map[string]float64, len(e.plan)),
		Outputs: make([]ltd.DeviceMsg, 0, len(e.plan)),
	}

	channel := e.Channel()
	for _, a := range e.plan {
		value := scope[a.slot]
		result.Values[a.name] = value

		msg := ltd.DeviceMsg{
			SeqNumber: seq,
			MsgValue:  value,
			Config:    a.config,
		}
		result.Outputs = append(result.Outputs, msg)
		e.out(channel, Payload{DeviceMsg: msg})
	}

	return result
}
