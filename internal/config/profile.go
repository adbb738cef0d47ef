// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/labtronic/ltdhub/pkg/vce"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Codec names accepted in a profile
const (
	CodecPacket        = "packet"
	CodecFloatSequence = "float_sequence"
)

// ErrInvalidProfile is returned when a device profile is inconsistent
var ErrInvalidProfile = errors.New("invalid device profile")

// Profile describes one device model: its wire dialect, channel table,
// compute engine bindings and operator commands
type Profile struct {
	Model        string           `yaml:"model"`
	Version      string           `yaml:"version"`
	Codec        string           `yaml:"codec"`
	BaudRate     int              `yaml:"baud_rate"`
	ErrorMsgType *int             `yaml:"error_msg_type"`
	Channels     []ChannelConfig  `yaml:"channels"`
	VCE          VCEConfig        `yaml:"vce"`
	Equations    []EquationConfig `yaml:"equations"`
	Scripts      []ScriptConfig   `yaml:"scripts"`
	Commands     []CommandConfig  `yaml:"commands"`

	dir string
}

// ChannelConfig is one row of the device channel table
type ChannelConfig struct {
	MsgType   int    `yaml:"msg_type"`
	Name      string `yaml:"name"`
	DataType  string `yaml:"data_type"`
	SizeBytes int    `yaml:"size_bytes"`
	Cfg2      uint8  `yaml:"cfg2"`
}

// VCEConfig binds channels to engine symbols. Vars and Consts list channel
// names; every other channel becomes a constant that is never transmitted.
type VCEConfig struct {
	InstanceID    int              `yaml:"instance_id"`
	ChannelFormat string           `yaml:"channel_format"`
	Vars          []string         `yaml:"vars"`
	Consts        []string         `yaml:"consts"`
	Symbols       []SymbolConfig   `yaml:"symbols"`
	Computed      []ComputedConfig `yaml:"computed"`
}

// SymbolConfig sets the initial value of a channel symbol, or declares a
// free constant when the symbol is not bound to a channel
type SymbolConfig struct {
	Symbol string  `yaml:"symbol"`
	Value  float64 `yaml:"value"`
	Desc   string  `yaml:"desc"`
}

type ComputedConfig struct {
	Name    string `yaml:"name"`
	Expr    string `yaml:"expr"`
	MsgType *int   `yaml:"msg_type"`
}

type EquationConfig struct {
	Name       string   `yaml:"name"`
	Args       []string `yaml:"args"`
	Expr       string   `yaml:"expr"`
	ResultUnit string   `yaml:"result_unit"`
}

type ScriptConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// CommandConfig maps an operator command onto a write channel.
// A command with Value set takes no argument.
type CommandConfig struct {
	Name    string    `yaml:"name"`
	Aliases []string  `yaml:"aliases"`
	Channel string    `yaml:"channel"`
	Value   *float64  `yaml:"value"`
	Min     *float64  `yaml:"min"`
	Max     *float64  `yaml:"max"`
	Allowed []float64 `yaml:"allowed"`
	Help    string    `yaml:"help"`
}

// LoadProfile reads and validates a device profile. Relative script paths
// are resolved against the profile's directory.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	profile, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	profile.dir = filepath.Dir(path)

	return profile, nil
}

// ParseProfile decodes and validates a profile document
func ParseProfile(data []byte) (*Profile, error) {
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if profile.Codec == "" {
		profile.Codec = CodecPacket
	}
	if profile.BaudRate == 0 {
		profile.BaudRate = 115200
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Validate checks cross references between channels, engine bindings and
// commands. Codec and compute engine construction are checked too, so a
// bad expression fails at load time rather than on connect.
func (p *Profile) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidProfile)
	}
	if _, err := p.ProtocolVersion(); err != nil {
		return err
	}
	if _, err := p.NewCodec(); err != nil {
		return err
	}

	for _, name := range append(append([]string{}, p.VCE.Vars...), p.VCE.Consts...) {
		if _, ok := p.channel(name); !ok {
			return fmt.Errorf("%w: vce references unknown channel %s", ErrInvalidProfile, name)
		}
	}

	for _, cmd := range p.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("%w: command without a name", ErrInvalidProfile)
		}
		ch, ok := p.channel(cmd.Channel)
		if !ok {
			return fmt.Errorf("%w: command %s targets unknown channel %q", ErrInvalidProfile, cmd.Name, cmd.Channel)
		}
		if !(ltd.MsgTypeConfig{MsgType: ch.MsgType}).IsHardware() {
			return fmt.Errorf("%w: command %s targets non-hardware channel %s", ErrInvalidProfile, cmd.Name, ch.Name)
		}
		if cmd.Min != nil && cmd.Max != nil && *cmd.Min > *cmd.Max {
			return fmt.Errorf("%w: command %s has min > max", ErrInvalidProfile, cmd.Name)
		}
	}

	seen := make(map[string]bool)
	for _, eq := range p.Equations {
		if eq.Name == "" || seen[eq.Name] {
			return fmt.Errorf("%w: equation name %q missing or duplicated", ErrInvalidProfile, eq.Name)
		}
		seen[eq.Name] = true
	}

	if p.HasVCE() {
		// compiles every computed expression against the bound symbols
		if _, err := p.NewEngine(nil, nil); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
	}

	return nil
}

// ProtocolVersion parses the hex version string, e.g. "8787"
func (p *Profile) ProtocolVersion() (ltd.ProtocolVersion, error) {
	var v ltd.ProtocolVersion
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(p.Version), "0x"))
	if err != nil || len(raw) != 2 {
		return v, fmt.Errorf("%w: version %q must be 2 hex bytes", ErrInvalidProfile, p.Version)
	}
	copy(v[:], raw)
	return v, nil
}

// MsgTypeConfigs returns the channel table in profile order
func (p *Profile) MsgTypeConfigs() ([]ltd.MsgTypeConfig, error) {
	table := make([]ltd.MsgTypeConfig, 0, len(p.Channels))
	for _, ch := range p.Channels {
		dt, ok := ltd.ParseDataType(ch.DataType)
		if !ok {
			return nil, fmt.Errorf("%w: channel %s has unknown data type %q", ErrInvalidProfile, ch.Name, ch.DataType)
		}
		table = append(table, ltd.MsgTypeConfig{
			MsgType:   ch.MsgType,
			Name:      ch.Name,
			DataType:  dt,
			SizeBytes: ch.SizeBytes,
			Cfg2:      ch.Cfg2,
		})
	}
	return table, nil
}

// NewCodec builds the codec named by the profile
func (p *Profile) NewCodec() (ltd.Codec, error) {
	version, err := p.ProtocolVersion()
	if err != nil {
		return nil, err
	}
	table, err := p.MsgTypeConfigs()
	if err != nil {
		return nil, err
	}

	switch p.Codec {
	case CodecPacket:
		return ltd.NewDriver(version, table)
	case CodecFloatSequence:
		return ltd.NewFloatSequenceDriver(version, table)
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidProfile, p.Codec)
	}
}

// HasVCE returns true if the profile binds any channel or computed parameter
func (p *Profile) HasVCE() bool {
	return len(p.VCE.Vars) > 0 || len(p.VCE.Computed) > 0
}

// ParamConfigs maps the channel table to engine parameters and applies the
// symbol section on top
func (p *Profile) ParamConfigs() ([]vce.ParamConfig, error) {
	table, err := p.MsgTypeConfigs()
	if err != nil {
		return nil, err
	}

	params := vce.MapDriverConfigToParamConfig(table, p.msgTypes(p.VCE.Vars), p.msgTypes(p.VCE.Consts))

	index := make(map[string]int, len(params))
	for i, param := range params {
		index[param.Symbol] = i
	}

	for _, sym := range p.VCE.Symbols {
		value := sym.Value
		if i, ok := index[sym.Symbol]; ok {
			if params[i].Type == vce.ParamVar {
				return nil, fmt.Errorf("%w: symbol %s is a VAR and cannot have an initial value", ErrInvalidProfile, sym.Symbol)
			}
			params[i].ConstInitValue = &value
			continue
		}

		desc := sym.Desc
		if desc == "" {
			desc = strings.TrimPrefix(sym.Symbol, "$")
		}
		params = append(params, vce.ParamConfig{
			MsgTypeConfig: ltd.MsgTypeConfig{
				MsgType:   ltd.NonTransmitted,
				Name:      strings.TrimPrefix(sym.Symbol, "$"),
				DataType:  ltd.DataTypeFloat,
				SizeBytes: 4,
			},
			Symbol:         sym.Symbol,
			Type:           vce.ParamConst,
			ConstInitValue: &value,
			Desc:           desc,
		})
		index[sym.Symbol] = len(params) - 1
	}

	return params, nil
}

// ComputedParams returns the computed section in declaration order
func (p *Profile) ComputedParams() []vce.ComputedParam {
	out := make([]vce.ComputedParam, len(p.VCE.Computed))
	for i, c := range p.VCE.Computed {
		out[i] = vce.ComputedParam{Name: c.Name, Expr: c.Expr, MsgType: c.MsgType}
	}
	return out
}

// NewEngine builds a compute engine for the profile
func (p *Profile) NewEngine(out vce.OutputFunc, log logrus.FieldLogger) (*vce.Engine, error) {
	params, err := p.ParamConfigs()
	if err != nil {
		return nil, err
	}

	opts := []vce.Option{vce.WithInstanceID(p.VCE.InstanceID)}
	if p.VCE.ChannelFormat != "" {
		opts = append(opts, vce.WithChannelFormat(p.VCE.ChannelFormat))
	}
	if log != nil {
		opts = append(opts, vce.WithLogger(log))
	}

	engine, err := vce.NewEngine(params, p.ComputedParams(), out, p.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", p.Model, err)
	}
	return engine, nil
}

// Equation returns the named equation
func (p *Profile) Equation(name string) (vce.Equation, bool) {
	for _, eq := range p.Equations {
		if eq.Name == name {
			return vce.Equation{
				FuncName:   eq.Name,
				Args:       eq.Args,
				Expr:       eq.Expr,
				ResultUnit: eq.ResultUnit,
			}, true
		}
	}
	return vce.Equation{}, false
}

// Script returns the named script with its path resolved
func (p *Profile) Script(name string) (vce.Script, bool) {
	for _, s := range p.Scripts {
		if s.Name == name {
			path := s.Path
			if !filepath.IsAbs(path) && p.dir != "" {
				path = filepath.Join(p.dir, path)
			}
			return vce.Script{Name: s.Name, Path: path}, true
		}
	}
	return vce.Script{}, false
}

// MsgTypeByName returns the msg_type of a channel, or -1
func (p *Profile) MsgTypeByName(name string) int {
	if ch, ok := p.channel(name); ok {
		return ch.MsgType
	}
	return ltd.NonTransmitted
}

// CommandHelp renders one line per command
func (p *Profile) CommandHelp() []string {
	lines := make([]string, 0, len(p.Commands))
	for _, cmd := range p.Commands {
		usage := cmd.Name
		if cmd.Value == nil {
			usage = "SET " + cmd.Name + " <value>"
		}
		if len(cmd.Aliases) > 0 {
			usage += ", Alias: " + strings.Join(cmd.Aliases, ", ")
		}
		lines = append(lines, fmt.Sprintf("%-48s | %s", usage, cmd.Help))
	}
	return lines
}

// Check returns an error if value is outside the command bounds
func (c CommandConfig) Check(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("invalid %s value: %v", c.Name, value)
	}
	if c.Min != nil && value < *c.Min {
		return fmt.Errorf("invalid %s value: %v < %v", c.Name, value, *c.Min)
	}
	if c.Max != nil && value > *c.Max {
		return fmt.Errorf("invalid %s value: %v > %v", c.Name, value, *c.Max)
	}
	if len(c.Allowed) > 0 {
		for _, a := range c.Allowed {
			if a == value {
				return nil
			}
		}
		return fmt.Errorf("invalid %s value: %v not in %v", c.Name, value, c.Allowed)
	}
	return nil
}

func (p *Profile) channel(name string) (ChannelConfig, bool) {
	for _, ch := range p.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

func (p *Profile) msgTypes(names []string) []int {
	out := make([]int, 0, len(names))
	for _, n := range names {
		if ch, ok := p.channel(n); ok {
			out = append(out, ch.MsgType)
		}
	}
	return out
}
