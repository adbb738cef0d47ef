// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/spf13/cobra"
)

var packetTestTimeout time.Duration

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid LTD packet",
	Long: `Wait for a valid LTD packet on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
that decodes with the profile's codec (matching version, valid CRC).
Frames that fail to decode are counted and skipped.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection or profile error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().DurationVar(&packetTestTimeout, "timeout", 10*time.Second, "How long to wait for a packet")
}

// exitf prints to stderr and exits with code
func exitf(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

// firstPacket reads conn until a frame decodes, returning it with the
// number of frames rejected before it
func firstPacket(ctx context.Context, conn Connection, codec ltd.Codec) ([]byte, []ltd.DeviceMsg, int, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	framer := ltd.NewFramer(codec.Version())
	buf := make([]byte, 128)
	rejected := 0

	for {
		n, err := conn.Read(buf)
		frames, _ := framer.Write(buf[:n])
		for _, frame := range frames {
			if msgs, decodeErr := codec.DecodePacket(frame); decodeErr == nil {
				return frame, msgs, rejected, nil
			}
			rejected++
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, rejected, ctx.Err()
			}
			return nil, nil, rejected, err
		}
	}
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		exitf(2, "Profile error: %v", err)
	}
	codec, err := profile.NewCodec()
	if err != nil {
		exitf(2, "Profile error: %v", err)
	}

	conn, connInfo, err := OpenConnection(profile)
	if err != nil {
		exitf(2, "Connection error: %v", err)
	}
	defer conn.Close()

	fmt.Printf("ltdhub - Packet Test\n")
	fmt.Printf("Device: %s (version %s)\n", profile.Model, codec.Version())
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s\n", packetTestTimeout)
	fmt.Printf("Waiting for valid LTD packet...\n\n")

	sigCtx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(sigCtx, packetTestTimeout)
	defer cancelTimeout()

	frame, msgs, rejected, err := firstPacket(ctx, conn, codec)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		exitf(1, "TIMEOUT: No valid packet received within %s (%d invalid frames)", packetTestTimeout, rejected)
	case err != nil:
		exitf(2, "Read error: %v", err)
	}

	if rejected > 0 {
		fmt.Printf("(skipped %d invalid frames before sync)\n", rejected)
	}
	fmt.Printf("SUCCESS: Received valid packet\n")
	fmt.Printf("  Length: %d bytes\n", len(frame))
	fmt.Printf("  Raw: %s\n", ltd.FormatHex(frame))
	for _, m := range msgs {
		fmt.Printf("  %s\n", ltd.FormatDeviceMsg(m))
	}
	return nil
}
