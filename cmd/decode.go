// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/labtronic/ltdhub/pkg/ltd"
	"github.com/spf13/cobra"
)

var decodeJSON bool

var decodeCmd = &cobra.Command{
	Use:   "decode [hex...]",
	Short: "Decode hex-encoded packets offline",
	Long: `Decode packets given as hex strings with the profile's codec.

Each argument is one packet. With no arguments, packets are read from stdin,
one per line. Spaces and a 0x prefix are ignored.

  ltdhub decode -f profiles/lt-ch000.yaml "22 55 0D 01 00 14 00 26 02 ..."`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Print readings as JSON")
}

func runDecode(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	codec, err := profile.NewCodec()
	if err != nil {
		return err
	}

	lines := args
	if len(lines) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, line := range lines {
		packet, err := ltd.ParseHex(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", line, err)
			failed++
			continue
		}

		msgs, err := codec.DecodePacket(packet)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", ltd.FormatHex(packet), err)
			failed++
			continue
		}

		for _, m := range msgs {
			if decodeJSON {
				if err := enc.Encode(m); err != nil {
					return err
				}
				continue
			}
			fmt.Println(ltd.FormatDeviceMsg(m))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d packets failed to decode", failed, len(lines))
	}
	return nil
}
