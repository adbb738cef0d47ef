// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package vce

import (
	"context"
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// ExecScript runs script.Name from the file at script.Path over the data
// points and returns the parameters it pushed
func ExecScript(dataPoints []DataPoint, script Script) ([]InjectedParam, error) {
	return ExecScriptContext(context.Background(), dataPoints, script)
}

// ExecScriptContext is ExecScript with cancellation; the runtime is
// interrupted when ctx is done
func ExecScriptContext(ctx context.Context, dataPoints []DataPoint, script Script) ([]InjectedParam, error) {
	src, err := os.ReadFile(script.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScriptRead, err)
	}

	// each run gets its own runtime, nothing leaks between scripts
	vm := goja.New()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	if _, err := vm.RunScript(script.Path, string(src)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrScriptExec, script.Path, err)
	}

	fn, ok := goja.AssertFunction(vm.Get(script.Name))
	if !ok {
		return nil, fmt.Errorf("%w: function %q is not defined in %s", ErrScriptExec, script.Name, script.Path)
	}

	points := make([]interface{}, len(dataPoints))
	for i, p := range dataPoints {
		m := make(map[string]interface{}, len(p))
		for k, v := range p {
			m[k] = v
		}
		points[i] = m
	}
	injected := vm.NewArray()

	if _, err := fn(goja.Undefined(), vm.ToValue(points), injected); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrScriptExec, script.Name, err)
	}

	return exportInjected(injected.Export())
}

func exportInjected(v interface{}) ([]InjectedParam, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: injected params is %T, not an array", ErrScriptExec, v)
	}

	params := make([]InjectedParam, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: injected param %d is %T, not an object", ErrScriptExec, i, item)
		}
		name, _ := obj["param_name"].(string)

		var value interface{}
		switch pv := obj["param_val"].(type) {
		case int64:
			value = float64(pv)
		case float64, string:
			value = pv
		default:
			return nil, fmt.Errorf("%w: injected param %q has value of type %T", ErrScriptExec, name, pv)
		}

		params = append(params, InjectedParam{Name: name, Value: value})
	}

	return params, nil
}
