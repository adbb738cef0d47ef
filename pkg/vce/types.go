// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package vce

import (
	"github.com/labtronic/ltdhub/pkg/ltd"
)

// ParamType is the role a bound symbol plays in a cycle
type ParamType int

const (
	// ParamConst values persist until overwritten
	ParamConst ParamType = 0
	// ParamVar values are refreshed every cycle from hardware
	ParamVar ParamType = 1
)

func (t ParamType) String() string {
	switch t {
	case ParamConst:
		return "VCE_CONST"
	case ParamVar:
		return "VCE_VAR"
	default:
		return "UNKNOWN"
	}
}

// ParamConfig binds a channel to a $symbol
type ParamConfig struct {
	MsgTypeConfig  ltd.MsgTypeConfig `json:"msg_type_config"`
	Symbol         string            `json:"param_symbol"`
	Type           ParamType         `json:"param_type"`
	ConstInitValue *float64          `json:"const_init_value,omitempty"`
	Desc           string            `json:"desc,omitempty"`
}

// ComputedParam is a derived channel evaluated once per completed cycle.
// MsgType is optional; when nil a synthetic type is assigned.
type ComputedParam struct {
	Name    string `json:"param_name"`
	Expr    string `json:"expr"`
	MsgType *int   `json:"msg_type,omitempty"`
}

// Equation is a standalone named expression over positional arguments
type Equation struct {
	FuncName   string   `json:"func_name"`
	Args       []string `json:"args_list"`
	Expr       string   `json:"expr"`
	ResultUnit string   `json:"result_unit"`
}

// Script names a JS function in a file run over historical data points
type Script struct {
	Name string `json:"script_name"`
	Path string `json:"script_path"`
}

// InjectedParam is one value a script pushed back.
// Value holds either a float64 or a string.
type InjectedParam struct {
	Name  string      `json:"param_name"`
	Value interface{} `json:"param_val"`
}

// Float returns Value as a number
func (p InjectedParam) Float() (float64, bool) {
	v, ok := p.Value.(float64)
	return v, ok
}

// DataPoint is one historical sample keyed by decimal msg_type, plus the
// seq_number and time_ms keys
type DataPoint map[string]float64

// Data point keys that are not msg types
const (
	DataPointSeqKey  = "seq_number"
	DataPointTimeKey = "time_ms"
)

// Status reports what LoadDeviceMsg did with a message
type Status int

const (
	ConstLoaded Status = iota
	NewCycleStarted
	VarLoaded
	Computed
	VarDiscarded
)

func (s Status) String() string {
	switch s {
	case ConstLoaded:
		return "const loaded"
	case NewCycleStarted:
		return "new cycle started"
	case VarLoaded:
		return "var loaded"
	case Computed:
		return "computed"
	case VarDiscarded:
		return "var discarded"
	default:
		return "unknown"
	}
}

// Result is returned by LoadDeviceMsg. Values and Outputs are only set
// when Status is Computed.
type Result struct {
	Status  Status
	Seq     int
	Values  map[string]float64
	Outputs []ltd.DeviceMsg
}

// Payload is delivered to the output callback for every computed reading
type Payload struct {
	DeviceMsg ltd.DeviceMsg `json:"device_msg"`
}

// OutputFunc receives computed readings on the device channel
type OutputFunc func(channel string, payload Payload)
