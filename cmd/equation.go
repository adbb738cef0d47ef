// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"fmt"
	"strconv"

	"github.com/labtronic/ltdhub/pkg/vce"
	"github.com/spf13/cobra"
)

var equationCmd = &cobra.Command{
	Use:   "equation <name> [args...]",
	Short: "Evaluate one of the profile's equations",
	Long: `Evaluate a named equation from the profile with positional arguments.

  ltdhub equation -f profiles/lt-ch000.yaml flow_rate 250 30

With only a name, the equation's signature is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEquation,
}

func init() {
	rootCmd.AddCommand(equationCmd)
}

func runEquation(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	eq, ok := profile.Equation(args[0])
	if !ok {
		return fmt.Errorf("profile %s has no equation %q", profile.Model, args[0])
	}

	if len(args) == 1 {
		fmt.Printf("%s(%v) = %s [%s]\n", eq.FuncName, eq.Args, eq.Expr, eq.ResultUnit)
		return nil
	}

	values := make([]float64, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("invalid argument %q: %w", a, err)
		}
		values = append(values, v)
	}

	result, err := vce.ComputeEquation(eq, values)
	if err != nil {
		return err
	}
	fmt.Printf("%v %s\n", result, eq.ResultUnit)
	return nil
}
