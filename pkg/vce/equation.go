// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

package vce

import (
	"fmt"
	"math"
)

// ComputeEquation evaluates eq with args bound positionally to eq.Args.
//
// Only a NaN result is an error. A result of 0 is returned as a value, so
// an equation that legitimately evaluates to zero succeeds here, where the
// LTD host's equation helper treats any falsy result, 0 included, as a
// failed computation.
func ComputeEquation(eq Equation, args []float64) (float64, error) {
	if len(args) != len(eq.Args) {
		return 0, fmt.Errorf("%w: %s takes %d, got %d", ErrInsufficientArguments, eq.FuncName, len(eq.Args), len(args))
	}

	slots := make(map[string]int, len(eq.Args))
	for i, name := range eq.Args {
		if _, dup := slots[name]; dup {
			return 0, fmt.Errorf("%w: duplicate argument %q", ErrInvalidConfig, name)
		}
		slots[name] = i
	}

	expr, err := Compile(eq.Expr, func(name string) (int, bool) {
		slot, ok := slots[name]
		return slot, ok
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}

	result := expr.Eval(args)
	if math.IsNaN(result) {
		return 0, fmt.Errorf("%w: %s produced NaN", ErrEvaluation, eq.Expr)
	}
	return result, nil
}
