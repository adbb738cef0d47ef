// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The ltdhub Authors

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	sendCommand string
	sendMsgType int
	sendValue   float64
	sendList    bool
)

var sendCmd = &cobra.Command{
	Use:   "send [command...]",
	Short: "Send a single command or raw value to the device",
	Long: `Send one packet to the device and exit.

Either give a command line from the profile's command table:
  ltdhub send -f profiles/lt-ch000.yaml -p /dev/ttyUSB0 SET PISTON_PUMP 120
  ltdhub send -f profiles/lt-ch000.yaml -p /dev/ttyUSB0 --cmd "SI 120"

or a raw msg_type and value, which bypasses command bounds:
  ltdhub send -f profiles/lt-ch000.yaml -p /dev/ttyUSB0 --msg-type 12 --value 120

Use --list to print the command table without connecting.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendCommand, "cmd", "", "Command line to send, e.g. \"SET PISTON_PUMP 120\"")
	sendCmd.Flags().IntVar(&sendMsgType, "msg-type", -1, "Raw msg_type to send")
	sendCmd.Flags().Float64Var(&sendValue, "value", 0, "Raw value to send with --msg-type")
	sendCmd.Flags().BoolVar(&sendList, "list", false, "List the profile's commands and exit")
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendList {
		profile, err := loadProfile()
		if err != nil {
			return err
		}
		for _, line := range profile.CommandHelp() {
			fmt.Println(line)
		}
		return nil
	}

	line := sendCommand
	if line == "" {
		line = strings.Join(args, " ")
	} else if len(args) > 0 {
		return fmt.Errorf("give the command either as arguments or with --cmd")
	}

	if line == "" && sendMsgType < 0 {
		return fmt.Errorf("give a command or --msg-type")
	}
	if line != "" && sendMsgType >= 0 {
		return fmt.Errorf("a command and --msg-type are mutually exclusive")
	}

	ctx, cancel := signalContext()
	defer cancel()

	l, err := openLink(ctx, nil)
	if err != nil {
		return err
	}
	defer l.Close()

	if sendMsgType >= 0 {
		seq := l.Seq()
		if err := l.SendPacket(sendMsgType, sendValue); err != nil {
			return err
		}
		fmt.Printf("Sent msg_type %d = %v (seq %d)\n", sendMsgType, sendValue, seq)
		return nil
	}

	parsed, err := l.ParseCommand(line)
	if err != nil {
		return err
	}
	if err := l.SendPacket(parsed.MsgType, parsed.Value); err != nil {
		return err
	}
	fmt.Printf("Sent %s: msg_type %d = %v\n", parsed.Command.Name, parsed.MsgType, parsed.Value)
	return nil
}
