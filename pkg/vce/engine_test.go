// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package vce

import (
	"math"
	"math/rand"
	"testing"

	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeviceModel = "LT-CH000"

func float64Ptr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func testParams() []ParamConfig {
	return []ParamConfig{
		{
			MsgTypeConfig:  ltd.MsgTypeConfig{MsgType: 0, Name: "PISTON_PUMP", DataType: ltd.DataTypeUint, SizeBytes: 4},
			Symbol:         "$I",
			Type:           ParamConst,
			ConstInitValue: float64Ptr(1),
		},
		{
			MsgTypeConfig:  ltd.MsgTypeConfig{MsgType: 1, Name: "PERISTALTIC_PUMP", DataType: ltd.DataTypeUint, SizeBytes: 1},
			Symbol:         "$E",
			Type:           ParamConst,
			ConstInitValue: float64Ptr(1),
		},
		{
			MsgTypeConfig: ltd.MsgTypeConfig{MsgType: 2, Name: "READ_WEIGHT", DataType: ltd.DataTypeFloat, SizeBytes: 4},
			Symbol:        "$W",
			Type:          ParamVar,
		},
		{
			MsgTypeConfig: ltd.MsgTypeConfig{MsgType: 3, Name: "READ_TEMPERATURE", DataType: ltd.DataTypeFloat, SizeBytes: 4},
			Symbol:        "$T",
			Type:          ParamVar,
		},
		{
			MsgTypeConfig: ltd.MsgTypeConfig{MsgType: 4, Name: "READ_PRESSURE", DataType: ltd.DataTypeFloat, SizeBytes: 4},
			Symbol:        "$P",
			Type:          ParamVar,
		},
	}
}

func testComputed() []ComputedParam {
	return []ComputedParam{
		{Name: "TEST_CP1", Expr: "$W + $T + Math.sqrt($P) - ($I / $E) * 0.01"},
		{Name: "TEST_CP2", Expr: "$E + (($W + $T + $P) / $I)"},
	}
}

type emitted struct {
	channel string
	payload Payload
}

type recorder struct {
	bus []emitted
}

func (r *recorder) output(channel string, payload Payload) {
	r.bus = append(r.bus, emitted{channel, payload})
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e, err := NewEngine(testParams(), testComputed(), rec.output, testDeviceModel, opts...)
	require.NoError(t, err)
	return e, rec
}

func msgFor(p ParamConfig, seq int, value float64) ltd.DeviceMsg {
	return ltd.DeviceMsg{SeqNumber: seq, MsgValue: value, Config: p.MsgTypeConfig}
}

func loadConsts(t *testing.T, e *Engine) {
	t.Helper()
	params := testParams()
	for i, v := range []float64{100, 2} {
		res, err := e.LoadDeviceMsg(msgFor(params[i], i, v))
		require.NoError(t, err)
		assert.Equal(t, ConstLoaded, res.Status)
	}
}

// ============================================================
// Cycle Tests
// ============================================================

func TestEngine_Success(t *testing.T) {
	e, rec := newTestEngine(t)
	loadConsts(t, e)
	params := testParams()

	res, err := e.LoadDeviceMsg(msgFor(params[2], 2, 10))
	require.NoError(t, err)
	assert.Equal(t, NewCycleStarted, res.Status)

	res, err = e.LoadDeviceMsg(msgFor(params[3], 2, 12))
	require.NoError(t, err)
	assert.Equal(t, VarLoaded, res.Status)

	res, err = e.LoadDeviceMsg(msgFor(params[4], 2, 36))
	require.NoError(t, err)
	assert.Equal(t, Computed, res.Status)
	assert.Equal(t, 2, res.Seq)
	assert.Equal(t, map[string]float64{"TEST_CP1": 27.5, "TEST_CP2": 2.58}, res.Values)

	require.Len(t, rec.bus, 2)
	assert.Equal(t, "LT-CH000_device_msg", rec.bus[0].channel)
	assert.Equal(t, "LT-CH000_device_msg", rec.bus[1].channel)
	assert.Equal(t, ltd.DeviceMsg{
		SeqNumber: 2,
		MsgValue:  27.5,
		Config:    ltd.MsgTypeConfig{MsgType: 16, Name: "READ_TEST_CP1", DataType: ltd.DataTypeFloat, SizeBytes: 4},
	}, rec.bus[0].payload.DeviceMsg)
	assert.Equal(t, ltd.DeviceMsg{
		SeqNumber: 2,
		MsgValue:  2.58,
		Config:    ltd.MsgTypeConfig{MsgType: 17, Name: "READ_TEST_CP2", DataType: ltd.DataTypeFloat, SizeBytes: 4},
	}, rec.bus[1].payload.DeviceMsg)

	assert.Equal(t, []ltd.DeviceMsg{rec.bus[0].payload.DeviceMsg, rec.bus[1].payload.DeviceMsg}, res.Outputs)
	assert.Zero(t, e.PatchLen())
}

func TestEngine_ConstInitValues(t *testing.T) {
	e, rec := newTestEngine(t)
	params := testParams()

	var res Result
	var err error
	for i, v := range []float64{10, 12, 36} {
		res, err = e.LoadDeviceMsg(msgFor(params[2+i], 2, v))
		require.NoError(t, err)
	}

	assert.Equal(t, Computed, res.Status)
	assert.Equal(t, map[string]float64{"TEST_CP1": 27.99, "TEST_CP2": 59}, res.Values)
	require.Len(t, rec.bus, 2)
	assert.Equal(t, 27.99, rec.bus[0].payload.DeviceMsg.MsgValue)
	assert.Equal(t, 59.0, rec.bus[1].payload.DeviceMsg.MsgValue)
}

func TestEngine_HighSequenceNumber(t *testing.T) {
	const seq = 39218
	e, rec := newTestEngine(t)
	loadConsts(t, e)
	params := testParams()

	for i, v := range []float64{10, 12, 36} {
		_, err := e.LoadDeviceMsg(msgFor(params[2+i], seq, v))
		require.NoError(t, err)
	}

	require.Len(t, rec.bus, 2)
	for _, out := range rec.bus {
		assert.Equal(t, seq, out.payload.DeviceMsg.SeqNumber)
	}
}

func TestEngine_SequenceNumberMismatchAbandonsCycle(t *testing.T) {
	e, rec := newTestEngine(t)
	loadConsts(t, e)
	params := testParams()

	res, err := e.LoadDeviceMsg(msgFor(params[2], 2, 10))
	require.NoError(t, err)
	assert.Equal(t, NewCycleStarted, res.Status)

	res, err = e.LoadDeviceMsg(msgFor(params[3], 2, 12))
	require.NoError(t, err)
	assert.Equal(t, VarLoaded, res.Status)

	res, err = e.LoadDeviceMsg(msgFor(params[4], 3, 36))
	require.NoError(t, err)
	assert.Equal(t, NewCycleStarted, res.Status)
	assert.Equal(t, 3, e.CycleSeq())
	assert.Equal(t, 1, e.PatchLen())
	assert.Empty(t, rec.bus)

	// seq 3 can still complete on its own
	_, err = e.LoadDeviceMsg(msgFor(params[2], 3, 1))
	require.NoError(t, err)
	res, err = e.LoadDeviceMsg(msgFor(params[3], 3, 1))
	require.NoError(t, err)
	assert.Equal(t, Computed, res.Status)
	assert.Len(t, rec.bus, 2)
}

func TestEngine_InvalidMsgTypeSequence(t *testing.T) {
	e, rec := newTestEngine(t)
	loadConsts(t, e)
	params := testParams()

	res, err := e.LoadDeviceMsg(msgFor(params[2], 2, 10))
	require.NoError(t, err)
	assert.Equal(t, NewCycleStarted, res.Status)

	res, err = e.LoadDeviceMsg(msgFor(params[3], 2, 12))
	require.NoError(t, err)
	assert.Equal(t, VarLoaded, res.Status)

	_, err = e.LoadDeviceMsg(msgFor(params[3], 2, 36))
	assert.ErrorIs(t, err, ErrInvalidMsgTypeSequence)
	assert.Empty(t, rec.bus)

	// the rest of the failed cycle is dropped
	res, err = e.LoadDeviceMsg(msgFor(params[4], 2, 36))
	require.NoError(t, err)
	assert.Equal(t, VarDiscarded, res.Status)
	assert.Empty(t, rec.bus)

	// and the next sequence starts clean
	res, err = e.LoadDeviceMsg(msgFor(params[2], 3, 10))
	require.NoError(t, err)
	assert.Equal(t, NewCycleStarted, res.Status)
}

func TestEngine_NaNInjection(t *testing.T) {
	e, rec := newTestEngine(t)
	params := testParams()

	_, err := e.LoadDeviceMsg(msgFor(params[2], 2, 10))
	require.NoError(t, err)

	_, err = e.LoadDeviceMsg(msgFor(params[3], 2, math.NaN()))
	assert.ErrorIs(t, err, ErrNaNInjection)
	assert.Equal(t, 1, e.PatchLen())

	_, err = e.LoadDeviceMsg(msgFor(params[0], 0, math.NaN()))
	assert.ErrorIs(t, err, ErrNaNInjection)
	assert.Equal(t, 1.0, e.Symbols()["$I"])

	assert.Empty(t, rec.bus)
}

func TestEngine_UnboundMsgType(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.LoadDeviceMsg(ltd.DeviceMsg{Config: ltd.MsgTypeConfig{MsgType: 9}})
	assert.ErrorIs(t, err, ErrUnboundMsgType)
}

func TestEngine_ConstPersistence(t *testing.T) {
	e, rec := newTestEngine(t)
	loadConsts(t, e)
	params := testParams()

	for seq := 10; seq < 60; seq++ {
		for i, v := range []float64{10, 12, 36} {
			_, err := e.LoadDeviceMsg(msgFor(params[2+i], seq, v))
			require.NoError(t, err)
		}
	}

	require.Len(t, rec.bus, 100)
	for i := 0; i < len(rec.bus); i += 2 {
		assert.Equal(t, 27.5, rec.bus[i].payload.DeviceMsg.MsgValue)
		assert.Equal(t, 2.58, rec.bus[i+1].payload.DeviceMsg.MsgValue)
	}

	// overwriting mid-cycle does not disturb accumulation
	_, err := e.LoadDeviceMsg(msgFor(params[2], 99, 10))
	require.NoError(t, err)
	res, err := e.LoadDeviceMsg(msgFor(params[0], 99, 1))
	require.NoError(t, err)
	assert.Equal(t, ConstLoaded, res.Status)
	assert.Equal(t, 1, e.PatchLen())
}

func TestEngine_AnyArrivalOrder(t *testing.T) {
	e, rec := newTestEngine(t)
	loadConsts(t, e)
	params := testParams()
	rng := rand.New(rand.NewSource(1))

	for seq := 0; seq < 20; seq++ {
		order := rng.Perm(3)
		values := []float64{10, 12, 36}
		for _, i := range order {
			_, err := e.LoadDeviceMsg(msgFor(params[2+i], seq, values[i]))
			require.NoError(t, err)
		}
		require.Len(t, rec.bus, 2*(seq+1))
		assert.Equal(t, seq, rec.bus[len(rec.bus)-1].payload.DeviceMsg.SeqNumber)
	}
}

func TestEngine_FreshScopePerCycle(t *testing.T) {
	rec := &recorder{}
	e, err := NewEngine(testParams(), []ComputedParam{
		{Name: "A", Expr: "$W * 2"},
		{Name: "B", Expr: "A + $T"},
	}, rec.output, testDeviceModel)
	require.NoError(t, err)
	params := testParams()

	for seq, w := range []float64{1, 5} {
		_, err := e.LoadDeviceMsg(msgFor(params[2], seq, w))
		require.NoError(t, err)
		_, err = e.LoadDeviceMsg(msgFor(params[3], seq, 1))
		require.NoError(t, err)
		res, err := e.LoadDeviceMsg(msgFor(params[4], seq, 0))
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"A": 2 * w, "B": 2*w + 1}, res.Values)
	}

	// computed values never enter the persistent symbol table
	assert.NotContains(t, e.Symbols(), "A")
}

func TestEngine_SingleVarCompletesImmediately(t *testing.T) {
	rec := &recorder{}
	e, err := NewEngine(testParams()[2:3], []ComputedParam{{Name: "DOUBLE", Expr: "$W * 2"}}, rec.output, testDeviceModel)
	require.NoError(t, err)

	res, err := e.LoadDeviceMsg(msgFor(testParams()[2], 7, 21))
	require.NoError(t, err)
	assert.Equal(t, Computed, res.Status)
	assert.Equal(t, 42.0, res.Values["DOUBLE"])
}

// ============================================================
// Configuration Tests
// ============================================================

func TestEngine_MsgTypeAssignment(t *testing.T) {
	e, _ := newTestEngine(t, WithInstanceID(1))
	configs := e.ComputedConfigs()
	require.Len(t, configs, 2)
	assert.Equal(t, 26, configs[0].MsgType)
	assert.Equal(t, 27, configs[1].MsgType)

	computed := testComputed()
	computed[1].MsgType = intPtr(40)
	e, err := NewEngine(testParams(), computed, nil, testDeviceModel)
	require.NoError(t, err)
	configs = e.ComputedConfigs()
	assert.Equal(t, 16, configs[0].MsgType)
	assert.Equal(t, 40, configs[1].MsgType)
	assert.Equal(t, "READ_TEST_CP2", configs[1].Name)
}

func TestEngine_ChannelFormat(t *testing.T) {
	e, rec := newTestEngine(t, WithChannelFormat("device/%s/computed"))
	assert.Equal(t, "device/LT-CH000/computed", e.Channel())

	params := testParams()
	for i, v := range []float64{10, 12, 36} {
		_, err := e.LoadDeviceMsg(msgFor(params[2+i], 1, v))
		require.NoError(t, err)
	}
	require.NotEmpty(t, rec.bus)
	assert.Equal(t, "device/LT-CH000/computed", rec.bus[0].channel)
}

func TestEngine_LoadSymbol(t *testing.T) {
	params := append(testParams(), ParamConfig{
		MsgTypeConfig: ltd.MsgTypeConfig{MsgType: ltd.NonTransmitted, Name: "C_F"},
		Symbol:        "$C_F",
		Type:          ParamConst,
	})
	e, err := NewEngine(params, []ComputedParam{{Name: "X", Expr: "$W * $C_F"}}, nil, testDeviceModel)
	require.NoError(t, err)

	require.NoError(t, e.LoadSymbol("$C_F", 3))
	assert.ErrorIs(t, e.LoadSymbol("$NOPE", 1), ErrUnboundSymbol)
	assert.ErrorIs(t, e.LoadSymbol("$C_F", math.NaN()), ErrNaNInjection)
	assert.False(t, e.Binds(ltd.NonTransmitted))

	for i, v := range []float64{10, 12, 36} {
		res, err := e.LoadDeviceMsg(msgFor(params[2+i], 1, v))
		require.NoError(t, err)
		if i == 2 {
			assert.Equal(t, 30.0, res.Values["X"])
		}
	}
}

func TestEngine_InvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		params   func() []ParamConfig
		computed []ComputedParam
		err      error
	}{
		{
			name:     "forward reference",
			params:   testParams,
			computed: []ComputedParam{{Name: "A", Expr: "B + 1"}, {Name: "B", Expr: "1"}},
			err:      ErrUnknownSymbol,
		},
		{
			name:     "self reference",
			params:   testParams,
			computed: []ComputedParam{{Name: "A", Expr: "A + 1"}},
			err:      ErrUnknownSymbol,
		},
		{
			name:     "unknown symbol",
			params:   testParams,
			computed: []ComputedParam{{Name: "A", Expr: "$Q + 1"}},
			err:      ErrUnknownSymbol,
		},
		{
			name:     "dollar computed name",
			params:   testParams,
			computed: []ComputedParam{{Name: "$A", Expr: "1"}},
			err:      ErrInvalidConfig,
		},
		{
			name:     "duplicate computed name",
			params:   testParams,
			computed: []ComputedParam{{Name: "A", Expr: "1"}, {Name: "A", Expr: "2"}},
			err:      ErrInvalidConfig,
		},
		{
			name:     "msg_type collision",
			params:   testParams,
			computed: []ComputedParam{{Name: "A", Expr: "1"}, {Name: "B", Expr: "2", MsgType: intPtr(16)}},
			err:      ErrInvalidConfig,
		},
		{
			name: "symbol without dollar",
			params: func() []ParamConfig {
				p := testParams()
				p[0].Symbol = "I"
				return p
			},
			err: ErrInvalidConfig,
		},
		{
			name: "duplicate msg_type",
			params: func() []ParamConfig {
				p := testParams()
				p[1].MsgTypeConfig.MsgType = 0
				return p
			},
			err: ErrInvalidConfig,
		},
		{
			name: "non-transmitted var",
			params: func() []ParamConfig {
				p := testParams()
				p[2].MsgTypeConfig.MsgType = ltd.NonTransmitted
				return p
			},
			err: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.params(), tt.computed, nil, testDeviceModel)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEngine_Accessors(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.Equal(t, testDeviceModel, e.DeviceModel())
	assert.True(t, e.Binds(0))
	assert.True(t, e.IsVar(2))
	assert.False(t, e.IsVar(0))
	assert.Equal(t, -1, e.CycleSeq())
	assert.Equal(t, map[string]float64{"$I": 1, "$E": 1, "$W": 0, "$T": 0, "$P": 0}, e.Symbols())

	_, err := e.LoadDeviceMsg(msgFor(testParams()[2], 5, 1))
	require.NoError(t, err)
	e.Reset()
	assert.Equal(t, -1, e.CycleSeq())
	assert.Zero(t, e.PatchLen())
}
