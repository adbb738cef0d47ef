// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/labtronic/ltdhub/internal/capture"
	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/spf13/cobra"
)

var (
	recordOutput   string
	recordDuration time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record readings to a capture file",
	Long: `Record every decoded and computed reading to a CBOR capture file.

Records are appended, so an existing capture can be extended. The capture can
later be fed to the replay and script commands.

Runs until Ctrl+C, or for --duration if given.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "capture.cbor", "Capture file")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	if recordDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}

	w, err := capture.Create(recordOutput)
	if err != nil {
		return err
	}
	defer w.Close()

	l, err := openLink(ctx, func(channel string, msg ltd.DeviceMsg) {
		if err := w.Emit(channel, msg); err != nil {
			logger.Errorf("Capture write failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Printf("ltdhub - Record\n")
	fmt.Printf("Device: %s\n", l.profile.Model)
	fmt.Printf("Connection: %s\n", l.info)
	fmt.Printf("Output: %s\n", recordOutput)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	err = l.Run(ctx)
	fmt.Printf("Recorded %d readings\n", w.Count())
	return err
}
