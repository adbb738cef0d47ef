// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package adapter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/labtronic/ltdhub/internal/config"
	"github.com/labtronic/ltdhub/pkg/ltd"
)

// Command errors
var (
	ErrInvalidCommand = errors.New("invalid device command, type HELP to list device commands")
	ErrCommandValue   = errors.New("invalid command value")
)

type tabler interface {
	Table() []ltd.MsgTypeConfig
}

// ParsedCommand is a command line resolved against the command table
type ParsedCommand struct {
	Command config.CommandConfig
	MsgType int
	Value   float64
}

// ParseCommand resolves line without sending it. Accepted forms are
// "NAME" for fixed-value commands, "SET NAME <value>", and an alias
// followed by the value if the command takes one.
func (a *Adapter) ParseCommand(line string) (ParsedCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ParsedCommand{}, ErrInvalidCommand
	}

	cmd, args, ok := a.lookup(fields)
	if !ok {
		return ParsedCommand{}, fmt.Errorf("%w: %q", ErrInvalidCommand, line)
	}

	msgType, ok := a.msgType(cmd.Channel)
	if !ok {
		return ParsedCommand{}, fmt.Errorf("%w: %s targets unknown channel %s", ErrInvalidCommand, cmd.Name, cmd.Channel)
	}

	if cmd.Value != nil {
		if len(args) != 0 {
			return ParsedCommand{}, fmt.Errorf("%w: %s takes no value", ErrInvalidCommand, cmd.Name)
		}
		return ParsedCommand{Command: cmd, MsgType: msgType, Value: *cmd.Value}, nil
	}

	if len(args) != 1 {
		return ParsedCommand{}, fmt.Errorf("%w: %s needs exactly one value", ErrInvalidCommand, cmd.Name)
	}
	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return ParsedCommand{}, fmt.Errorf("%w: %q is not a number", ErrCommandValue, args[0])
	}
	if err := cmd.Check(value); err != nil {
		return ParsedCommand{}, fmt.Errorf("%w: %v", ErrCommandValue, err)
	}

	return ParsedCommand{Command: cmd, MsgType: msgType, Value: value}, nil
}

// ExecCommand parses line and sends the resulting packet
func (a *Adapter) ExecCommand(line string) error {
	parsed, err := a.ParseCommand(line)
	if err != nil {
		return err
	}

	a.log.WithField("command", parsed.Command.Name).Infof("Exec: %s", strings.TrimSpace(line))
	return a.SendPacket(parsed.MsgType, parsed.Value)
}

func (a *Adapter) lookup(fields []string) (config.CommandConfig, []string, bool) {
	head := fields[0]

	if head == "SET" && len(fields) >= 2 {
		for _, cmd := range a.commands {
			if cmd.Name == fields[1] && cmd.Value == nil {
				return cmd, fields[2:], true
			}
		}
		return config.CommandConfig{}, nil, false
	}

	for _, cmd := range a.commands {
		if cmd.Value != nil && cmd.Name == head {
			return cmd, fields[1:], true
		}
		for _, alias := range cmd.Aliases {
			if alias == head {
				return cmd, fields[1:], true
			}
		}
	}

	return config.CommandConfig{}, nil, false
}

func (a *Adapter) msgType(channel string) (int, bool) {
	t, ok := a.codec.(tabler)
	if !ok {
		return 0, false
	}
	for _, cfg := range t.Table() {
		if cfg.Name == channel {
			return cfg.MsgType, true
		}
	}
	return 0, false
}
