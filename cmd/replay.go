// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"fmt"

	"github.com/labtronic/ltdhub/internal/capture"
	"github.com/labtronic/ltdhub/pkg/vce"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Re-run the compute engine over a capture file",
	Long: `Feed the hardware readings of a capture through a fresh compute engine
built from the profile, printing every computed reading.

Computed readings stored in the capture are skipped, so a capture recorded
with an older profile can be re-evaluated with new expressions.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	if !profile.HasVCE() {
		return fmt.Errorf("profile %s has no compute engine", profile.Model)
	}

	records, err := capture.ReadFile(args[0])
	if err != nil {
		return err
	}

	emitted := 0
	engine, err := profile.NewEngine(func(channel string, payload vce.Payload) {
		m := payload.DeviceMsg
		emitted++
		fmt.Printf("seq=%-6d %-24s = %v\n", m.SeqNumber, m.Config.Name, m.MsgValue)
	}, logger)
	if err != nil {
		return err
	}

	computed := make(map[int]bool)
	for _, cfg := range engine.ComputedConfigs() {
		computed[cfg.MsgType] = true
	}

	fed := 0
	for _, r := range records {
		msgType := r.Msg.Config.MsgType
		if computed[msgType] || !engine.Binds(msgType) {
			continue
		}
		fed++
		if _, err := engine.LoadDeviceMsg(r.Msg); err != nil {
			logger.WithField("seq", r.Msg.SeqNumber).Warnf("Replay: %v", err)
		}
	}

	fmt.Printf("\nReplayed %d of %d records, %d computed readings\n", fed, len(records), emitted)
	return nil
}
