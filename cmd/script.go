// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"fmt"

	"github.com/labtronic/ltdhub/internal/capture"
	"github.com/labtronic/ltdhub/pkg/vce"
	"github.com/spf13/cobra"
)

var (
	scriptCapture string
	scriptWindow  int64
)

var scriptCmd = &cobra.Command{
	Use:   "script <name>",
	Short: "Run a profile script over a capture file",
	Long: `Run a named script from the profile over the data points of a capture.

Readings are grouped by sequence number into one data point per cycle. Use
--window to only pass the last N milliseconds of the capture. The script's
injected parameters are printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(scriptCmd)
	scriptCmd.Flags().StringVar(&scriptCapture, "capture", "capture.cbor", "Capture file to read")
	scriptCmd.Flags().Int64Var(&scriptWindow, "window", 0, "Only use the last N milliseconds (0 uses all)")
}

func runScript(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	script, ok := profile.Script(args[0])
	if !ok {
		return fmt.Errorf("profile %s has no script %q", profile.Model, args[0])
	}

	records, err := capture.ReadFile(scriptCapture)
	if err != nil {
		return err
	}
	points := capture.DataPoints(records, scriptWindow)

	ctx, cancel := signalContext()
	defer cancel()

	injected, err := vce.ExecScriptContext(ctx, points, script)
	if err != nil {
		return err
	}

	logger.WithField("points", len(points)).Debugf("Script %s finished", script.Name)
	for _, p := range injected {
		fmt.Printf("%s = %v\n", p.Name, p.Value)
	}
	return nil
}
