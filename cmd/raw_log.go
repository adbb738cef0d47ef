// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"fmt"
	"time"

	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded readings in human-readable format",
	Long: `Continuously decode and display LTD packets as they arrive.

Each reading is printed with a timestamp, the channel name and msg_type, its
sequence number and decoded value. Computed parameters from the profile's
compute engine are printed as they are evaluated. Decode errors are logged.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	l, err := openLink(ctx, func(channel string, msg ltd.DeviceMsg) {
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), ltd.FormatDeviceMsg(msg))
	})
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Printf("ltdhub - Raw Packet Log\n")
	fmt.Printf("Device: %s (%s codec, version %s)\n", l.profile.Model, l.profile.Codec, l.Codec().Version())
	fmt.Printf("Connection: %s\n", l.info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return l.Run(ctx)
}
