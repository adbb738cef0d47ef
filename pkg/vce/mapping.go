// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package vce

import (
	"github.com/labtronic/ltdhub/pkg/ltd"
)

// MapDriverConfigToParamConfig binds every channel of a driver table to a
// $symbol named after the channel. Channels listed in neither varTypes nor
// constTypes become constants that are never transmitted (msg_type -1).
func MapDriverConfigToParamConfig(table []ltd.MsgTypeConfig, varTypes, constTypes []int) []ParamConfig {
	vars := make(map[int]bool, len(varTypes))
	for _, t := range varTypes {
		vars[t] = true
	}
	consts := make(map[int]bool, len(constTypes))
	for _, t := range constTypes {
		consts[t] = true
	}

	params := make([]ParamConfig, 0, len(table))
	for _, cfg := range table {
		p := ParamConfig{
			MsgTypeConfig: cfg,
			Symbol:        "$" + cfg.Name,
			Desc:          cfg.Name,
		}

		switch {
		case vars[cfg.MsgType]:
			p.Type = ParamVar
		case consts[cfg.MsgType]:
			p.Type = ParamConst
		default:
			p.Type = ParamConst
			p.MsgTypeConfig.MsgType = ltd.NonTransmitted
		}

		params = append(params, p)
	}

	return params
}
